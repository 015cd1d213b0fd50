package service

import (
	"context"
	"fmt"
	"time"

	"deadman_server/server/common/log"
	"deadman_server/server/common/metrics"
	"deadman_server/server/deadman/domain"
)

type handoverStore interface {
	InsertIfNone(ctx context.Context, userID string, graceEnds time.Time, metadata map[string]any) (*domain.HandoverProcess, error)
	GetActiveByUser(ctx context.Context, userID string) (*domain.HandoverProcess, error)
	GetByID(ctx context.Context, processID string) (domain.HandoverProcess, error)
	Cancel(ctx context.Context, userID, reason string) (bool, error)
	AdvanceStatus(ctx context.Context, processID, from, to string) (bool, error)
	NeedingAttention(ctx context.Context, now time.Time) ([]domain.HandoverProcess, error)
}

type successorStore interface {
	ListByUser(ctx context.Context, userID string) ([]domain.Successor, error)
	UpsertResponse(ctx context.Context, processID, successorID, response, note string) error
	ListResponses(ctx context.Context, processID string) ([]domain.SuccessorResponse, error)
}

type alertSender interface {
	SendHandoverAlert(ctx context.Context, userID string, successors []domain.Successor) []domain.DeliveryResult
}

type HandoverService struct {
	repo       handoverStore
	successors successorStore
	notifier   alertSender
	now        func() time.Time
}

func NewHandoverService(repo handoverStore, successors successorStore, notifier alertSender) *HandoverService {
	return &HandoverService{repo: repo, successors: successors, notifier: notifier, now: time.Now}
}

// Initiate opens a GRACE_PERIOD process for the user, or returns the existing
// non-terminal one unchanged. Two consecutive calls yield the same process.
func (s *HandoverService) Initiate(ctx context.Context, userID, reason string) (domain.HandoverProcess, error) {
	graceEnds := s.now().Add(domain.GracePeriodDuration)
	inserted, err := s.repo.InsertIfNone(ctx, userID, graceEnds, map[string]any{"trigger": reason})
	if err != nil {
		return domain.HandoverProcess{}, err
	}
	if inserted != nil {
		metrics.IncHandoverTransition(domain.HandoverGracePeriod)
		log.Infof("event=handover action=initiate user_id=%s process_id=%s grace_period_ends=%s", userID, inserted.ProcessID, graceEnds.Format(time.RFC3339))
		return *inserted, nil
	}

	existing, err := s.repo.GetActiveByUser(ctx, userID)
	if err != nil {
		return domain.HandoverProcess{}, err
	}
	if existing == nil {
		return domain.HandoverProcess{}, fmt.Errorf("handover for user %s vanished between guard and read", userID)
	}
	log.Infof("event=handover action=initiate status=noop user_id=%s process_id=%s", userID, existing.ProcessID)
	return *existing, nil
}

// Cancel moves any non-terminal process to CANCELLED. No matching process is
// a benign no-op, not an error.
func (s *HandoverService) Cancel(ctx context.Context, userID, reason string) error {
	matched, err := s.repo.Cancel(ctx, userID, reason)
	if err != nil {
		return err
	}
	if !matched {
		log.Infof("event=handover action=cancel status=noop user_id=%s reason=%q", userID, reason)
		return nil
	}
	metrics.IncHandoverTransition(domain.HandoverCancelled)
	log.Infof("event=handover action=cancel user_id=%s reason=%q", userID, reason)
	return nil
}

// ProcessGracePeriodExpiration advances GRACE_PERIOD to AWAITING_SUCCESSORS.
// The status guard makes concurrent sweeps race harmlessly.
func (s *HandoverService) ProcessGracePeriodExpiration(ctx context.Context, processID string) error {
	matched, err := s.repo.AdvanceStatus(ctx, processID, domain.HandoverGracePeriod, domain.HandoverAwaitingSuccessors)
	if err != nil {
		return err
	}
	if !matched {
		log.Infof("event=handover action=expire_grace status=noop process_id=%s", processID)
		return nil
	}
	metrics.IncHandoverTransition(domain.HandoverAwaitingSuccessors)
	log.Infof("event=handover action=expire_grace process_id=%s", processID)
	return nil
}

// RespondToHandover records one successor's verification outcome. It never
// advances the overall process; the sweep owns all state transitions.
func (s *HandoverService) RespondToHandover(ctx context.Context, processID, successorID, response, note string) error {
	if response != domain.ResponseAccepted && response != domain.ResponseDeclined {
		return fmt.Errorf("response must be %q or %q", domain.ResponseAccepted, domain.ResponseDeclined)
	}
	proc, err := s.repo.GetByID(ctx, processID)
	if err != nil {
		return err
	}
	if domain.IsTerminalHandoverStatus(proc.Status) {
		return fmt.Errorf("handover %s is closed", processID)
	}
	return s.successors.UpsertResponse(ctx, processID, successorID, response, note)
}

// Complete is the hook for the external transfer executor: a guarded
// READY_FOR_TRANSFER → COMPLETED transition.
func (s *HandoverService) Complete(ctx context.Context, processID string) error {
	matched, err := s.repo.AdvanceStatus(ctx, processID, domain.HandoverReadyForTransfer, domain.HandoverCompleted)
	if err != nil {
		return err
	}
	if !matched {
		return fmt.Errorf("handover %s is not ready for transfer", processID)
	}
	metrics.IncHandoverTransition(domain.HandoverCompleted)
	log.Infof("event=handover action=complete process_id=%s", processID)
	return nil
}

func (s *HandoverService) NeedingAttention(ctx context.Context) ([]domain.HandoverProcess, error) {
	return s.repo.NeedingAttention(ctx, s.now())
}

// ProcessAttention moves one process one step forward. Each sweep advances a
// process at most one phase; cross-phase consistency is observed on the next
// sweep.
func (s *HandoverService) ProcessAttention(ctx context.Context, proc domain.HandoverProcess) error {
	switch proc.Status {
	case domain.HandoverGracePeriod:
		return s.ProcessGracePeriodExpiration(ctx, proc.ProcessID)
	case domain.HandoverAwaitingSuccessors:
		return s.advanceAwaitingSuccessors(ctx, proc)
	case domain.HandoverVerificationPending:
		return s.advanceVerification(ctx, proc)
	case domain.HandoverReadyForTransfer:
		log.Debugf("event=handover action=attention status=awaiting_transfer process_id=%s", proc.ProcessID)
		return nil
	default:
		return nil
	}
}

func (s *HandoverService) advanceAwaitingSuccessors(ctx context.Context, proc domain.HandoverProcess) error {
	successors, err := s.successors.ListByUser(ctx, proc.UserID)
	if err != nil {
		return err
	}
	if len(successors) == 0 {
		log.Warnf("event=handover action=alert_successors status=parked process_id=%s reason=no_successors", proc.ProcessID)
		return nil
	}

	results := s.notifier.SendHandoverAlert(ctx, proc.UserID, successors)
	sent := 0
	for _, result := range results {
		if result.Status != domain.DeliveryFailed {
			sent++
		}
	}
	if sent == 0 {
		log.Warnf("event=handover action=alert_successors status=failed process_id=%s attempts=%d", proc.ProcessID, len(results))
		return nil
	}

	matched, err := s.repo.AdvanceStatus(ctx, proc.ProcessID, domain.HandoverAwaitingSuccessors, domain.HandoverVerificationPending)
	if err != nil {
		return err
	}
	if matched {
		metrics.IncHandoverTransition(domain.HandoverVerificationPending)
		log.Infof("event=handover action=alert_successors process_id=%s alerted=%d/%d", proc.ProcessID, sent, len(successors))
	}
	return nil
}

// advanceVerification applies the consensus policy: every designated
// successor must have accepted before the process becomes READY_FOR_TRANSFER.
// A declined response parks the process for operator review; it remains
// cancellable.
func (s *HandoverService) advanceVerification(ctx context.Context, proc domain.HandoverProcess) error {
	successors, err := s.successors.ListByUser(ctx, proc.UserID)
	if err != nil {
		return err
	}
	if len(successors) == 0 {
		log.Warnf("event=handover action=verify status=parked process_id=%s reason=no_successors", proc.ProcessID)
		return nil
	}
	responses, err := s.successors.ListResponses(ctx, proc.ProcessID)
	if err != nil {
		return err
	}

	bySuccessor := make(map[string]string, len(responses))
	for _, resp := range responses {
		bySuccessor[resp.SuccessorID] = resp.Response
	}
	for _, successor := range successors {
		switch bySuccessor[successor.SuccessorID] {
		case domain.ResponseAccepted:
		case domain.ResponseDeclined:
			log.Infof("event=handover action=verify status=parked process_id=%s successor_id=%s response=declined", proc.ProcessID, successor.SuccessorID)
			return nil
		default:
			log.Debugf("event=handover action=verify status=waiting process_id=%s successor_id=%s", proc.ProcessID, successor.SuccessorID)
			return nil
		}
	}

	matched, err := s.repo.AdvanceStatus(ctx, proc.ProcessID, domain.HandoverVerificationPending, domain.HandoverReadyForTransfer)
	if err != nil {
		return err
	}
	if matched {
		metrics.IncHandoverTransition(domain.HandoverReadyForTransfer)
		log.Infof("event=handover action=verify status=ready process_id=%s", proc.ProcessID)
	}
	return nil
}

// StatusForUser is a read-only view of the latest non-terminal process. It
// degrades to nil on error; dashboards prefer partial data to hard failures.
func (s *HandoverService) StatusForUser(ctx context.Context, userID string) *domain.HandoverProcess {
	proc, err := s.repo.GetActiveByUser(ctx, userID)
	if err != nil {
		log.Warnf("event=handover action=status_read status=degraded user_id=%s error=%v", userID, err)
		return nil
	}
	return proc
}
