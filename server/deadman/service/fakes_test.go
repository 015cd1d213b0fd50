package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"deadman_server/server/deadman/domain"
	"deadman_server/server/deadman/repository"
)

type fakeUserStore struct {
	users    map[string]domain.User
	getErr   error
	touchErr error
	touched  []string
}

func newFakeUserStore(users ...domain.User) *fakeUserStore {
	f := &fakeUserStore{users: map[string]domain.User{}}
	for _, u := range users {
		f.users[u.UserID] = u
	}
	return f
}

func (f *fakeUserStore) Create(_ context.Context, user domain.User) (string, error) {
	id := fmt.Sprintf("user-%d", len(f.users)+1)
	user.UserID = id
	f.users[id] = user
	return id, nil
}

func (f *fakeUserStore) GetByID(_ context.Context, userID string) (domain.User, error) {
	if f.getErr != nil {
		return domain.User{}, f.getErr
	}
	u, ok := f.users[userID]
	if !ok {
		return domain.User{}, errors.New("user not found")
	}
	return u, nil
}

func (f *fakeUserStore) GetByEmail(_ context.Context, email string) (domain.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, errors.New("user not found")
}

func (f *fakeUserStore) TouchLastLogin(_ context.Context, userID string) error {
	if f.touchErr != nil {
		return f.touchErr
	}
	f.touched = append(f.touched, userID)
	return nil
}

type fakeActivityStore struct {
	records   []domain.ActivityRecord
	insertErr error
	lastQuery repository.ActivityQuery
}

func (f *fakeActivityStore) Insert(_ context.Context, rec domain.ActivityRecord) (domain.ActivityRecord, error) {
	if f.insertErr != nil {
		return domain.ActivityRecord{}, f.insertErr
	}
	rec.RecordID = fmt.Sprintf("rec-%d", len(f.records)+1)
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *fakeActivityStore) LatestByUser(_ context.Context, userID string) (*domain.ActivityRecord, error) {
	for i := len(f.records) - 1; i >= 0; i-- {
		if f.records[i].UserID == userID {
			rec := f.records[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (f *fakeActivityStore) ListByUser(_ context.Context, userID string, q repository.ActivityQuery) ([]domain.ActivityRecord, int, error) {
	f.lastQuery = q
	var out []domain.ActivityRecord
	for _, rec := range f.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, len(out), nil
}

type fakeSettingsStore struct {
	mu       sync.Mutex
	settings map[string]domain.InactivitySettings
	err      error
}

func newFakeSettingsStore() *fakeSettingsStore {
	return &fakeSettingsStore{settings: map[string]domain.InactivitySettings{}}
}

func (f *fakeSettingsStore) set(s domain.InactivitySettings) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[s.UserID] = s
}

func (f *fakeSettingsStore) GetOrCreate(_ context.Context, userID string) (domain.InactivitySettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.InactivitySettings{}, f.err
	}
	if s, ok := f.settings[userID]; ok {
		return s, nil
	}
	return domain.InactivitySettings{
		UserID:              userID,
		ThresholdDays:       domain.DefaultThresholdDays,
		NotificationMethods: []string{domain.MethodEmail},
	}, nil
}

func (f *fakeSettingsStore) Update(_ context.Context, userID string, thresholdDays int, methods []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.settings[userID]
	s.UserID = userID
	s.ThresholdDays = thresholdDays
	s.NotificationMethods = methods
	f.settings[userID] = s
	return nil
}

func (f *fakeSettingsStore) Pause(_ context.Context, userID, reason string, until *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.settings[userID]
	s.UserID = userID
	s.IsPaused = true
	s.PauseReason = reason
	s.PausedUntil = until
	f.settings[userID] = s
	return nil
}

func (f *fakeSettingsStore) Resume(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.settings[userID]
	s.UserID = userID
	s.IsPaused = false
	s.PauseReason = ""
	s.PausedUntil = nil
	f.settings[userID] = s
	return nil
}

// fakeHandoverStore serializes its guard the way the partial unique index on
// handover_processes does, so concurrent InsertIfNone calls resolve to one
// open row.
type fakeHandoverStore struct {
	mu        sync.Mutex
	processes map[string]*domain.HandoverProcess
	nextID    int
	err       error
}

func newFakeHandoverStore() *fakeHandoverStore {
	return &fakeHandoverStore{processes: map[string]*domain.HandoverProcess{}}
}

func (f *fakeHandoverStore) InsertIfNone(_ context.Context, userID string, graceEnds time.Time, metadata map[string]any) (*domain.HandoverProcess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, p := range f.processes {
		if p.UserID == userID && !domain.IsTerminalHandoverStatus(p.Status) {
			return nil, nil
		}
	}
	f.nextID++
	proc := &domain.HandoverProcess{
		ProcessID:       fmt.Sprintf("proc-%d", f.nextID),
		UserID:          userID,
		Status:          domain.HandoverGracePeriod,
		GracePeriodEnds: graceEnds,
		Metadata:        metadata,
	}
	f.processes[proc.ProcessID] = proc
	out := *proc
	return &out, nil
}

func (f *fakeHandoverStore) GetActiveByUser(_ context.Context, userID string) (*domain.HandoverProcess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, p := range f.processes {
		if p.UserID == userID && !domain.IsTerminalHandoverStatus(p.Status) {
			out := *p
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeHandoverStore) GetByID(_ context.Context, processID string) (domain.HandoverProcess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.processes[processID]
	if !ok {
		return domain.HandoverProcess{}, errors.New("handover not found")
	}
	return *p, nil
}

func (f *fakeHandoverStore) Cancel(_ context.Context, userID, reason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	for _, p := range f.processes {
		if p.UserID == userID && !domain.IsTerminalHandoverStatus(p.Status) {
			p.Status = domain.HandoverCancelled
			p.CancellationReason = reason
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeHandoverStore) AdvanceStatus(_ context.Context, processID, from, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.processes[processID]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	return true, nil
}

func (f *fakeHandoverStore) NeedingAttention(_ context.Context, now time.Time) ([]domain.HandoverProcess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.HandoverProcess
	for _, p := range f.processes {
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

type fakeSuccessorStore struct {
	successors map[string][]domain.Successor
	responses  map[string]map[string]domain.SuccessorResponse
	listErr    error
}

func newFakeSuccessorStore() *fakeSuccessorStore {
	return &fakeSuccessorStore{
		successors: map[string][]domain.Successor{},
		responses:  map[string]map[string]domain.SuccessorResponse{},
	}
}

func (f *fakeSuccessorStore) ListByUser(_ context.Context, userID string) ([]domain.Successor, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.successors[userID], nil
}

func (f *fakeSuccessorStore) UpsertResponse(_ context.Context, processID, successorID, response, note string) error {
	if f.responses[processID] == nil {
		f.responses[processID] = map[string]domain.SuccessorResponse{}
	}
	f.responses[processID][successorID] = domain.SuccessorResponse{
		ProcessID:   processID,
		SuccessorID: successorID,
		Response:    response,
		Note:        note,
	}
	return nil
}

func (f *fakeSuccessorStore) ListResponses(_ context.Context, processID string) ([]domain.SuccessorResponse, error) {
	var out []domain.SuccessorResponse
	for _, resp := range f.responses[processID] {
		out = append(out, resp)
	}
	return out, nil
}

type fakeDeliveryStore struct {
	deliveries []domain.NotificationDelivery
	lastSent   map[string]*time.Time
	insertErr  error
	lastErr    error
}

func newFakeDeliveryStore() *fakeDeliveryStore {
	return &fakeDeliveryStore{lastSent: map[string]*time.Time{}}
}

func (f *fakeDeliveryStore) Insert(_ context.Context, d domain.NotificationDelivery) (domain.NotificationDelivery, error) {
	if f.insertErr != nil {
		return domain.NotificationDelivery{}, f.insertErr
	}
	d.DeliveryID = fmt.Sprintf("delivery-%d", len(f.deliveries)+1)
	f.deliveries = append(f.deliveries, d)
	return d, nil
}

func (f *fakeDeliveryStore) ListByUser(_ context.Context, userID string, limit int) ([]domain.NotificationDelivery, error) {
	var out []domain.NotificationDelivery
	for i := len(f.deliveries) - 1; i >= 0 && len(out) < limit; i-- {
		if f.deliveries[i].UserID == userID {
			out = append(out, f.deliveries[i])
		}
	}
	return out, nil
}

func (f *fakeDeliveryStore) LastSentAt(_ context.Context, userID, notificationType string) (*time.Time, error) {
	if f.lastErr != nil {
		return nil, f.lastErr
	}
	return f.lastSent[userID+"/"+notificationType], nil
}

type fakeTokenStore struct {
	tokens    map[string]*domain.CheckInToken
	insertErr error
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: map[string]*domain.CheckInToken{}}
}

func (f *fakeTokenStore) Insert(_ context.Context, userID, tokenHash string, expiresAt time.Time) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.tokens[tokenHash] = &domain.CheckInToken{
		TokenHash: tokenHash,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}
	return nil
}

func (f *fakeTokenStore) Get(_ context.Context, tokenHash string) (*domain.CheckInToken, error) {
	t, ok := f.tokens[tokenHash]
	if !ok {
		return nil, nil
	}
	out := *t
	return &out, nil
}

func (f *fakeTokenStore) MarkUsed(_ context.Context, tokenHash, _, _ string) (bool, error) {
	t, ok := f.tokens[tokenHash]
	if !ok || t.UsedAt != nil || time.Now().After(t.ExpiresAt) {
		return false, nil
	}
	used := time.Now()
	t.UsedAt = &used
	return true, nil
}

type fakeStatusStore struct {
	history  []domain.SystemStatusRecord
	downtime time.Duration
	err      error
}

func (f *fakeStatusStore) Insert(_ context.Context, rec domain.SystemStatusRecord) (domain.SystemStatusRecord, error) {
	if f.err != nil {
		return domain.SystemStatusRecord{}, f.err
	}
	rec.StatusID = fmt.Sprintf("status-%d", len(f.history)+1)
	rec.CreatedAt = time.Now()
	f.history = append(f.history, rec)
	return rec, nil
}

func (f *fakeStatusStore) Latest(_ context.Context) (domain.SystemStatusRecord, error) {
	if f.err != nil {
		return domain.SystemStatusRecord{}, f.err
	}
	if len(f.history) == 0 {
		return domain.SystemStatusRecord{Status: domain.SystemOperational}, nil
	}
	return f.history[len(f.history)-1], nil
}

func (f *fakeStatusStore) CloseOpenWindow(_ context.Context, end time.Time) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	for i := len(f.history) - 1; i >= 0; i-- {
		rec := &f.history[i]
		if rec.DowntimeStart != nil && rec.DowntimeEnd == nil {
			rec.DowntimeEnd = &end
			f.downtime += end.Sub(*rec.DowntimeStart)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStatusStore) DowntimeSince(_ context.Context, _ time.Time) (time.Duration, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.downtime, nil
}

type fakeChannel struct {
	mu             sync.Mutex
	sent           []OutboundMessage
	err            error
	failRecipients map[string]bool
}

func (f *fakeChannel) Name() string { return "fake" }

func (f *fakeChannel) Send(_ context.Context, msg OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.failRecipients[msg.Recipient] {
		return errors.New("provider rejected recipient")
	}
	f.sent = append(f.sent, msg)
	return nil
}

var (
	_ userReader     = (*fakeUserStore)(nil)
	_ userStore      = (*fakeUserStore)(nil)
	_ activityStore  = (*fakeActivityStore)(nil)
	_ settingsStore  = (*fakeSettingsStore)(nil)
	_ handoverStore  = (*fakeHandoverStore)(nil)
	_ successorStore = (*fakeSuccessorStore)(nil)
	_ deliveryStore  = (*fakeDeliveryStore)(nil)
	_ deliveryLog    = (*fakeDeliveryStore)(nil)
	_ tokenStore     = (*fakeTokenStore)(nil)
	_ Channel        = (*fakeChannel)(nil)

	_ downtimeReader    = (*fakeStatusStore)(nil)
	_ systemStatusStore = (*fakeStatusStore)(nil)
)
