package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"deadman_server/server/deadman/domain"
)

func TestPauseSystemTrackingOpensWindow(t *testing.T) {
	store := &fakeStatusStore{}
	svc := NewStatusService(store)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	rec, err := svc.PauseSystemTracking(context.Background(), "", "weekly maintenance")
	assert.NoError(t, err)
	assert.Equal(t, domain.SystemMaintenance, rec.Status, "empty status defaults to maintenance")
	if assert.NotNil(t, rec.DowntimeStart) {
		assert.Equal(t, now, *rec.DowntimeStart)
	}
	assert.Nil(t, rec.DowntimeEnd)

	current, err := svc.Current(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, domain.SystemMaintenance, current)
}

func TestPauseSystemTrackingRejectsUnknownStatus(t *testing.T) {
	svc := NewStatusService(&fakeStatusStore{})
	_, err := svc.PauseSystemTracking(context.Background(), "DEGRADED", "")
	assert.Error(t, err)
}

func TestResumeClosesWindowAndCreditsDowntime(t *testing.T) {
	store := &fakeStatusStore{}
	svc := NewStatusService(store)
	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }

	_, err := svc.PauseSystemTracking(context.Background(), domain.SystemOutage, "database failover")
	assert.NoError(t, err)

	svc.now = func() time.Time { return start.Add(3 * time.Hour) }
	rec, err := svc.ResumeSystemTracking(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, domain.SystemOperational, rec.Status)

	credit, err := svc.DowntimeSince(context.Background(), start.Add(-time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, 3*time.Hour, credit)

	current, err := svc.Current(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, domain.SystemOperational, current)
}

func TestResumeWithoutOpenWindowStillRecordsOperational(t *testing.T) {
	store := &fakeStatusStore{}
	svc := NewStatusService(store)

	rec, err := svc.ResumeSystemTracking(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, domain.SystemOperational, rec.Status)

	credit, err := svc.DowntimeSince(context.Background(), time.Now().Add(-24*time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, time.Duration(0), credit)
}

func TestCurrentDefaultsToOperational(t *testing.T) {
	svc := NewStatusService(&fakeStatusStore{})
	current, err := svc.Current(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, domain.SystemOperational, current)
}
