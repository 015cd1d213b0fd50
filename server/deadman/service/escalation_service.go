package service

import (
	"context"
	"time"

	"deadman_server/server/common/log"
	"deadman_server/server/deadman/domain"
)

// Sweep outcomes for a single user, used for logging and metrics.
const (
	ActionNone               = "none"
	ActionCooldownSkip       = "cooldown_skip"
	ActionReminderSent       = "reminder_sent"
	ActionReminderFailed     = "reminder_failed"
	ActionHandoverInitiated  = "handover_initiated"
	ActionHandoverInProgress = "handover_in_progress"
)

// Cooldowns shrink as urgency rises.
var reminderCooldowns = map[string]time.Duration{
	domain.NotifyFirstReminder:  24 * time.Hour,
	domain.NotifySecondReminder: 12 * time.Hour,
	domain.NotifyFinalWarning:   6 * time.Hour,
}

type reminderSender interface {
	SendReminder(ctx context.Context, userID, notificationType string) domain.DeliveryResult
}

type handoverInitiator interface {
	Initiate(ctx context.Context, userID, reason string) (domain.HandoverProcess, error)
}

type deliveryLog interface {
	LastSentAt(ctx context.Context, userID, notificationType string) (*time.Time, error)
}

type EscalationService struct {
	notifier   reminderSender
	handovers  handoverInitiator
	deliveries deliveryLog
	now        func() time.Time
}

func NewEscalationService(notifier reminderSender, handovers handoverInitiator, deliveries deliveryLog) *EscalationService {
	return &EscalationService{notifier: notifier, handovers: handovers, deliveries: deliveries, now: time.Now}
}

// EvaluateUser maps the threshold percentage to the correct action:
// [100,∞) handover trigger, [95,100) FINAL_WARNING, [85,95) SECOND_REMINDER,
// [75,85) FIRST_REMINDER, below 75 nothing.
func (s *EscalationService) EvaluateUser(ctx context.Context, status domain.ActivityStatus) (string, error) {
	switch {
	case status.ThresholdPercentage >= 100:
		// Idempotency guard: an open process means the trigger already fired.
		if status.HandoverStatus == domain.StatusGracePeriod || status.HandoverStatus == domain.StatusHandoverActive {
			return ActionHandoverInProgress, nil
		}
		if _, err := s.handovers.Initiate(ctx, status.UserID, "inactivity threshold reached"); err != nil {
			return ActionNone, err
		}
		log.Infof("event=escalation action=initiate_handover user_id=%s pct=%.1f", status.UserID, status.ThresholdPercentage)
		return ActionHandoverInitiated, nil
	case status.ThresholdPercentage >= 95:
		return s.sendWithCooldown(ctx, status.UserID, domain.NotifyFinalWarning)
	case status.ThresholdPercentage >= 85:
		return s.sendWithCooldown(ctx, status.UserID, domain.NotifySecondReminder)
	case status.ThresholdPercentage >= 75:
		return s.sendWithCooldown(ctx, status.UserID, domain.NotifyFirstReminder)
	default:
		return ActionNone, nil
	}
}

func (s *EscalationService) sendWithCooldown(ctx context.Context, userID, notificationType string) (string, error) {
	last, err := s.deliveries.LastSentAt(ctx, userID, notificationType)
	if err != nil {
		return ActionNone, err
	}
	if last != nil && s.now().Sub(*last) < reminderCooldowns[notificationType] {
		log.Debugf("event=escalation action=cooldown_skip user_id=%s type=%s last_sent=%s", userID, notificationType, last.Format(time.RFC3339))
		return ActionCooldownSkip, nil
	}

	result := s.notifier.SendReminder(ctx, userID, notificationType)
	if result.Status == domain.DeliveryFailed {
		// Not retried within this sweep; the next sweep re-evaluates.
		log.Warnf("event=escalation action=send_reminder status=failed user_id=%s type=%s error=%s", userID, notificationType, result.Error)
		return ActionReminderFailed, nil
	}
	log.Infof("event=escalation action=send_reminder status=%s user_id=%s type=%s delivery_id=%s", result.Status, userID, notificationType, result.DeliveryID)
	return ActionReminderSent, nil
}
