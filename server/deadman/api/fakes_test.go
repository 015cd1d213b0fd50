package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"deadman_server/server/deadman/domain"
	"deadman_server/server/deadman/repository"
)

// In-memory stores backing the real services under test. Activity and user
// stores take a mutex because deferred activity recording runs off-request.

type memUserStore struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: map[string]domain.User{}}
}

func (m *memUserStore) Create(_ context.Context, user domain.User) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := fmt.Sprintf("user-%d", len(m.users)+1)
	user.UserID = id
	user.CreatedAt = time.Now()
	m.users[id] = user
	return id, nil
}

func (m *memUserStore) GetByID(_ context.Context, userID string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return domain.User{}, errors.New("user not found")
	}
	return u, nil
}

func (m *memUserStore) GetByEmail(_ context.Context, email string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, errors.New("user not found")
}

func (m *memUserStore) TouchLastLogin(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	now := time.Now()
	u.LastLoginAt = &now
	m.users[userID] = u
	return nil
}

type memActivityStore struct {
	mu      sync.Mutex
	records []domain.ActivityRecord
}

func (m *memActivityStore) Insert(_ context.Context, rec domain.ActivityRecord) (domain.ActivityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.RecordID = fmt.Sprintf("rec-%d", len(m.records)+1)
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *memActivityStore) LatestByUser(_ context.Context, userID string) (*domain.ActivityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].UserID == userID {
			rec := m.records[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (m *memActivityStore) ListByUser(_ context.Context, userID string, _ repository.ActivityQuery) ([]domain.ActivityRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ActivityRecord
	for _, rec := range m.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, len(out), nil
}

func (m *memActivityStore) countByType(userID, activityType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.records {
		if rec.UserID == userID && rec.ActivityType == activityType {
			n++
		}
	}
	return n
}

type memSettingsStore struct {
	mu       sync.Mutex
	settings map[string]domain.InactivitySettings
}

func newMemSettingsStore() *memSettingsStore {
	return &memSettingsStore{settings: map[string]domain.InactivitySettings{}}
}

func (m *memSettingsStore) GetOrCreate(_ context.Context, userID string) (domain.InactivitySettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.settings[userID]; ok {
		return s, nil
	}
	s := domain.InactivitySettings{
		UserID:              userID,
		ThresholdDays:       domain.DefaultThresholdDays,
		NotificationMethods: []string{domain.MethodEmail},
	}
	m.settings[userID] = s
	return s, nil
}

func (m *memSettingsStore) Update(_ context.Context, userID string, thresholdDays int, methods []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.settings[userID]
	s.UserID = userID
	s.ThresholdDays = thresholdDays
	s.NotificationMethods = methods
	m.settings[userID] = s
	return nil
}

func (m *memSettingsStore) Pause(_ context.Context, userID, reason string, until *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.settings[userID]
	s.UserID = userID
	s.IsPaused = true
	s.PauseReason = reason
	s.PausedUntil = until
	m.settings[userID] = s
	return nil
}

func (m *memSettingsStore) Resume(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.settings[userID]
	s.UserID = userID
	s.IsPaused = false
	s.PauseReason = ""
	s.PausedUntil = nil
	m.settings[userID] = s
	return nil
}

type memHandoverStore struct {
	processes map[string]*domain.HandoverProcess
	nextID    int
}

func newMemHandoverStore() *memHandoverStore {
	return &memHandoverStore{processes: map[string]*domain.HandoverProcess{}}
}

func (m *memHandoverStore) InsertIfNone(_ context.Context, userID string, graceEnds time.Time, metadata map[string]any) (*domain.HandoverProcess, error) {
	for _, p := range m.processes {
		if p.UserID == userID && !domain.IsTerminalHandoverStatus(p.Status) {
			return nil, nil
		}
	}
	m.nextID++
	proc := &domain.HandoverProcess{
		ProcessID:       fmt.Sprintf("proc-%d", m.nextID),
		UserID:          userID,
		Status:          domain.HandoverGracePeriod,
		GracePeriodEnds: graceEnds,
		Metadata:        metadata,
	}
	m.processes[proc.ProcessID] = proc
	out := *proc
	return &out, nil
}

func (m *memHandoverStore) GetActiveByUser(_ context.Context, userID string) (*domain.HandoverProcess, error) {
	for _, p := range m.processes {
		if p.UserID == userID && !domain.IsTerminalHandoverStatus(p.Status) {
			out := *p
			return &out, nil
		}
	}
	return nil, nil
}

func (m *memHandoverStore) GetByID(_ context.Context, processID string) (domain.HandoverProcess, error) {
	p, ok := m.processes[processID]
	if !ok {
		return domain.HandoverProcess{}, errors.New("handover not found")
	}
	return *p, nil
}

func (m *memHandoverStore) Cancel(_ context.Context, userID, reason string) (bool, error) {
	for _, p := range m.processes {
		if p.UserID == userID && !domain.IsTerminalHandoverStatus(p.Status) {
			p.Status = domain.HandoverCancelled
			p.CancellationReason = reason
			return true, nil
		}
	}
	return false, nil
}

func (m *memHandoverStore) AdvanceStatus(_ context.Context, processID, from, to string) (bool, error) {
	p, ok := m.processes[processID]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	return true, nil
}

func (m *memHandoverStore) NeedingAttention(_ context.Context, now time.Time) ([]domain.HandoverProcess, error) {
	var out []domain.HandoverProcess
	for _, p := range m.processes {
		expired := p.Status == domain.HandoverGracePeriod && p.GracePeriodEnds.Before(now)
		active := p.Status == domain.HandoverAwaitingSuccessors ||
			p.Status == domain.HandoverVerificationPending ||
			p.Status == domain.HandoverReadyForTransfer
		if expired || active {
			out = append(out, *p)
		}
	}
	return out, nil
}

type memSuccessorStore struct {
	successors map[string][]domain.Successor
	responses  map[string]map[string]domain.SuccessorResponse
	nextID     int
}

func newMemSuccessorStore() *memSuccessorStore {
	return &memSuccessorStore{
		successors: map[string][]domain.Successor{},
		responses:  map[string]map[string]domain.SuccessorResponse{},
	}
}

func (m *memSuccessorStore) ListByUser(_ context.Context, userID string) ([]domain.Successor, error) {
	return m.successors[userID], nil
}

func (m *memSuccessorStore) Add(_ context.Context, userID, email, name string) (string, error) {
	m.nextID++
	id := fmt.Sprintf("succ-%d", m.nextID)
	m.successors[userID] = append(m.successors[userID], domain.Successor{
		SuccessorID: id,
		UserID:      userID,
		Email:       email,
		Name:        name,
	})
	return id, nil
}

func (m *memSuccessorStore) Remove(_ context.Context, userID, successorID string) (bool, error) {
	list := m.successors[userID]
	for i, s := range list {
		if s.SuccessorID == successorID {
			m.successors[userID] = append(list[:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memSuccessorStore) UpsertResponse(_ context.Context, processID, successorID, response, note string) error {
	if m.responses[processID] == nil {
		m.responses[processID] = map[string]domain.SuccessorResponse{}
	}
	m.responses[processID][successorID] = domain.SuccessorResponse{
		ProcessID:   processID,
		SuccessorID: successorID,
		Response:    response,
		Note:        note,
	}
	return nil
}

func (m *memSuccessorStore) ListResponses(_ context.Context, processID string) ([]domain.SuccessorResponse, error) {
	var out []domain.SuccessorResponse
	for _, resp := range m.responses[processID] {
		out = append(out, resp)
	}
	return out, nil
}

type memDeliveryStore struct {
	deliveries []domain.NotificationDelivery
}

func (m *memDeliveryStore) Insert(_ context.Context, d domain.NotificationDelivery) (domain.NotificationDelivery, error) {
	d.DeliveryID = fmt.Sprintf("delivery-%d", len(m.deliveries)+1)
	d.CreatedAt = time.Now()
	m.deliveries = append(m.deliveries, d)
	return d, nil
}

func (m *memDeliveryStore) ListByUser(_ context.Context, userID string, limit int) ([]domain.NotificationDelivery, error) {
	var out []domain.NotificationDelivery
	for i := len(m.deliveries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.deliveries[i].UserID == userID {
			out = append(out, m.deliveries[i])
		}
	}
	return out, nil
}

func (m *memDeliveryStore) LastSentAt(_ context.Context, userID, notificationType string) (*time.Time, error) {
	for i := len(m.deliveries) - 1; i >= 0; i-- {
		d := m.deliveries[i]
		if d.UserID == userID && d.NotificationType == notificationType && d.Status != domain.DeliveryFailed {
			t := d.CreatedAt
			return &t, nil
		}
	}
	return nil, nil
}

type memTokenStore struct {
	tokens map[string]*domain.CheckInToken
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{tokens: map[string]*domain.CheckInToken{}}
}

func (m *memTokenStore) Insert(_ context.Context, userID, tokenHash string, expiresAt time.Time) error {
	m.tokens[tokenHash] = &domain.CheckInToken{
		TokenHash: tokenHash,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}
	return nil
}

func (m *memTokenStore) Get(_ context.Context, tokenHash string) (*domain.CheckInToken, error) {
	t, ok := m.tokens[tokenHash]
	if !ok {
		return nil, nil
	}
	out := *t
	return &out, nil
}

func (m *memTokenStore) MarkUsed(_ context.Context, tokenHash, _, _ string) (bool, error) {
	t, ok := m.tokens[tokenHash]
	if !ok || t.UsedAt != nil || time.Now().After(t.ExpiresAt) {
		return false, nil
	}
	used := time.Now()
	t.UsedAt = &used
	return true, nil
}

type memStatusStore struct {
	history  []domain.SystemStatusRecord
	downtime time.Duration
}

func (m *memStatusStore) Insert(_ context.Context, rec domain.SystemStatusRecord) (domain.SystemStatusRecord, error) {
	rec.StatusID = fmt.Sprintf("status-%d", len(m.history)+1)
	rec.CreatedAt = time.Now()
	m.history = append(m.history, rec)
	return rec, nil
}

func (m *memStatusStore) Latest(_ context.Context) (domain.SystemStatusRecord, error) {
	if len(m.history) == 0 {
		return domain.SystemStatusRecord{Status: domain.SystemOperational}, nil
	}
	return m.history[len(m.history)-1], nil
}

func (m *memStatusStore) CloseOpenWindow(_ context.Context, end time.Time) (bool, error) {
	for i := len(m.history) - 1; i >= 0; i-- {
		rec := &m.history[i]
		if rec.DowntimeStart != nil && rec.DowntimeEnd == nil {
			rec.DowntimeEnd = &end
			m.downtime += end.Sub(*rec.DowntimeStart)
			return true, nil
		}
	}
	return false, nil
}

func (m *memStatusStore) DowntimeSince(_ context.Context, _ time.Time) (time.Duration, error) {
	return m.downtime, nil
}

type memTrackedUsers struct {
	ids []string
}

func (m *memTrackedUsers) ListTrackedUserIDs(_ context.Context) ([]string, error) {
	return m.ids, nil
}
