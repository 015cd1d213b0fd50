package service

import (
	"context"
	"fmt"
	"time"

	"deadman_server/server/common/log"
	"deadman_server/server/deadman/domain"
)

type systemStatusStore interface {
	Insert(ctx context.Context, rec domain.SystemStatusRecord) (domain.SystemStatusRecord, error)
	Latest(ctx context.Context) (domain.SystemStatusRecord, error)
	CloseOpenWindow(ctx context.Context, end time.Time) (bool, error)
	DowntimeSince(ctx context.Context, since time.Time) (time.Duration, error)
}

// StatusService is the platform downtime ledger. Pausing opens a downtime
// window; resuming closes it and appends an OPERATIONAL transition. Closed
// windows are credited back to users during inactivity checks.
type StatusService struct {
	repo systemStatusStore
	now  func() time.Time
}

func NewStatusService(repo systemStatusStore) *StatusService {
	return &StatusService{repo: repo, now: time.Now}
}

func (s *StatusService) PauseSystemTracking(ctx context.Context, status, reason string) (domain.SystemStatusRecord, error) {
	if status == "" {
		status = domain.SystemMaintenance
	}
	if status != domain.SystemMaintenance && status != domain.SystemOutage {
		return domain.SystemStatusRecord{}, fmt.Errorf("status must be %s or %s", domain.SystemMaintenance, domain.SystemOutage)
	}
	start := s.now()
	rec, err := s.repo.Insert(ctx, domain.SystemStatusRecord{
		Status:        status,
		DowntimeStart: &start,
		Reason:        reason,
	})
	if err != nil {
		return domain.SystemStatusRecord{}, err
	}
	log.Infof("event=system_status action=pause status=%s reason=%q", status, reason)
	return rec, nil
}

func (s *StatusService) ResumeSystemTracking(ctx context.Context) (domain.SystemStatusRecord, error) {
	matched, err := s.repo.CloseOpenWindow(ctx, s.now())
	if err != nil {
		return domain.SystemStatusRecord{}, err
	}
	if !matched {
		log.Infof("event=system_status action=resume status=noop reason=no_open_window")
	}
	rec, err := s.repo.Insert(ctx, domain.SystemStatusRecord{Status: domain.SystemOperational})
	if err != nil {
		return domain.SystemStatusRecord{}, err
	}
	log.Infof("event=system_status action=resume")
	return rec, nil
}

func (s *StatusService) Current(ctx context.Context) (string, error) {
	rec, err := s.repo.Latest(ctx)
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

func (s *StatusService) Latest(ctx context.Context) (domain.SystemStatusRecord, error) {
	return s.repo.Latest(ctx)
}

func (s *StatusService) DowntimeSince(ctx context.Context, since time.Time) (time.Duration, error) {
	return s.repo.DowntimeSince(ctx, since)
}
