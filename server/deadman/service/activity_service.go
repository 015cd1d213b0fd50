package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"deadman_server/server/common/log"
	"deadman_server/server/deadman/domain"
	"deadman_server/server/deadman/repository"
)

type activityStore interface {
	Insert(ctx context.Context, record domain.ActivityRecord) (domain.ActivityRecord, error)
	LatestByUser(ctx context.Context, userID string) (*domain.ActivityRecord, error)
	ListByUser(ctx context.Context, userID string, q repository.ActivityQuery) ([]domain.ActivityRecord, int, error)
}

type userReader interface {
	GetByID(ctx context.Context, userID string) (domain.User, error)
	TouchLastLogin(ctx context.Context, userID string) error
}

type settingsStore interface {
	GetOrCreate(ctx context.Context, userID string) (domain.InactivitySettings, error)
	Update(ctx context.Context, userID string, thresholdDays int, methods []string) error
	Pause(ctx context.Context, userID, reason string, until *time.Time) error
	Resume(ctx context.Context, userID string) error
}

type handoverReader interface {
	GetActiveByUser(ctx context.Context, userID string) (*domain.HandoverProcess, error)
}

type downtimeReader interface {
	DowntimeSince(ctx context.Context, since time.Time) (time.Duration, error)
}

type ActivityService struct {
	records   activityStore
	users     userReader
	settings  settingsStore
	handovers handoverReader
	downtime  downtimeReader
	secret    []byte
	now       func() time.Time
}

func NewActivityService(records activityStore, users userReader, settings settingsStore, handovers handoverReader, downtime downtimeReader, secret string) *ActivityService {
	return &ActivityService{
		records:   records,
		users:     users,
		settings:  settings,
		handovers: handovers,
		downtime:  downtime,
		secret:    []byte(secret),
		now:       time.Now,
	}
}

type RecordInput struct {
	UserID       string
	ActivityType string
	ClientType   string
	IP           string
	UserAgent    string
	Metadata     map[string]any
}

// Record appends one signed activity event. LOGIN additionally refreshes the
// denormalized last-login marker; a failure there does not fail the record.
func (s *ActivityService) Record(ctx context.Context, in RecordInput) (domain.ActivityRecord, error) {
	rec := domain.ActivityRecord{
		UserID:       in.UserID,
		ActivityType: in.ActivityType,
		ClientType:   in.ClientType,
		IP:           in.IP,
		UserAgent:    in.UserAgent,
		Metadata:     in.Metadata,
		CreatedAt:    s.now().UTC(),
	}
	rec.Signature = s.sign(rec)

	out, err := s.records.Insert(ctx, rec)
	if err != nil {
		return domain.ActivityRecord{}, err
	}
	if in.ActivityType == domain.ActivityLogin {
		if err := s.users.TouchLastLogin(ctx, in.UserID); err != nil {
			log.Warnf("event=activity action=touch_last_login status=failed user_id=%s error=%v", in.UserID, err)
		}
	}
	return out, nil
}

// RecordAsync dispatches Record as deferred fire-and-forget work so it can
// never add latency to, or fail, the request that triggered it.
func (s *ActivityService) RecordAsync(in RecordInput) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("event=activity action=record_async status=panic user_id=%s recovered=%v", in.UserID, r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.Record(ctx, in); err != nil {
			log.Errorf("event=activity action=record_async status=failed user_id=%s type=%s error=%v", in.UserID, in.ActivityType, err)
		}
	}()
}

// Signed fields in a fixed order; this ordering is part of the wire contract,
// not incidental: activity_type, client_type, created_at (unix ms), ip,
// metadata (JSON object with sorted keys), user_agent, user_id. Every value
// is percent-escaped so the separators cannot appear inside a value and two
// distinct records can never encode to the same payload.
func signaturePayload(rec domain.ActivityRecord) string {
	metadata, _ := json.Marshal(rec.Metadata)
	return strings.Join([]string{
		"activity_type=" + url.QueryEscape(rec.ActivityType),
		"client_type=" + url.QueryEscape(rec.ClientType),
		"created_at=" + strconv.FormatInt(rec.CreatedAt.UnixMilli(), 10),
		"ip=" + url.QueryEscape(rec.IP),
		"metadata=" + url.QueryEscape(string(metadata)),
		"user_agent=" + url.QueryEscape(rec.UserAgent),
		"user_id=" + url.QueryEscape(rec.UserID),
	}, "&")
}

func (s *ActivityService) sign(rec domain.ActivityRecord) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(signaturePayload(rec)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyIntegrity recomputes the record signature and compares. It never
// errors; an unverifiable record is simply not trusted.
func (s *ActivityService) VerifyIntegrity(rec domain.ActivityRecord) bool {
	expected := s.sign(rec)
	return hmac.Equal([]byte(expected), []byte(rec.Signature))
}

// Status derives the user's current activity view: anchor is the latest
// activity record, falling back to account creation; the downtime ledger
// credit is subtracted before band math.
func (s *ActivityService) Status(ctx context.Context, userID string) (domain.ActivityStatus, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return domain.ActivityStatus{}, err
	}
	settings, err := s.settings.GetOrCreate(ctx, userID)
	if err != nil {
		return domain.ActivityStatus{}, err
	}

	anchor := user.CreatedAt
	latest, err := s.records.LatestByUser(ctx, userID)
	if err != nil {
		return domain.ActivityStatus{}, err
	}
	if latest != nil {
		anchor = latest.CreatedAt
	}

	proc, err := s.handovers.GetActiveByUser(ctx, userID)
	if err != nil {
		log.Warnf("event=activity action=load_handover status=degraded user_id=%s error=%v", userID, err)
		proc = nil
	}

	downtime, err := s.downtime.DowntimeSince(ctx, anchor)
	if err != nil {
		log.Warnf("event=activity action=load_downtime status=degraded user_id=%s error=%v", userID, err)
		downtime = 0
	}

	return domain.BuildActivityStatus(userID, anchor, s.now(), settings.ThresholdDays, downtime, proc), nil
}

func (s *ActivityService) History(ctx context.Context, userID string, q repository.ActivityQuery) ([]domain.ActivityRecord, int, error) {
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 50
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return s.records.ListByUser(ctx, userID, q)
}

func (s *ActivityService) GetSettings(ctx context.Context, userID string) (domain.InactivitySettings, error) {
	return s.settings.GetOrCreate(ctx, userID)
}

func (s *ActivityService) UpdateSettings(ctx context.Context, userID string, thresholdDays int, methods []string) (domain.InactivitySettings, error) {
	if err := s.settings.Update(ctx, userID, thresholdDays, methods); err != nil {
		return domain.InactivitySettings{}, err
	}
	return s.settings.GetOrCreate(ctx, userID)
}

func (s *ActivityService) PauseTracking(ctx context.Context, userID, reason string, until *time.Time) error {
	return s.settings.Pause(ctx, userID, reason, until)
}

func (s *ActivityService) ResumeTracking(ctx context.Context, userID string) error {
	return s.settings.Resume(ctx, userID)
}
