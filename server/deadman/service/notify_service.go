package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"deadman_server/server/common/log"
	"deadman_server/server/common/metrics"
	"deadman_server/server/deadman/domain"
)

type deliveryStore interface {
	Insert(ctx context.Context, d domain.NotificationDelivery) (domain.NotificationDelivery, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.NotificationDelivery, error)
}

type tokenStore interface {
	Insert(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	Get(ctx context.Context, tokenHash string) (*domain.CheckInToken, error)
	MarkUsed(ctx context.Context, tokenHash, ip, userAgent string) (bool, error)
}

type NotifyService struct {
	users      userReader
	settings   settingsStore
	deliveries deliveryStore
	tokens     tokenStore
	channel    Channel
	baseURL    string
	tokenTTL   time.Duration
	now        func() time.Time
}

func NewNotifyService(users userReader, settings settingsStore, deliveries deliveryStore, tokens tokenStore, channel Channel, baseURL string, tokenTTL time.Duration) *NotifyService {
	if tokenTTL <= 0 {
		tokenTTL = 72 * time.Hour
	}
	return &NotifyService{
		users:      users,
		settings:   settings,
		deliveries: deliveries,
		tokens:     tokens,
		channel:    channel,
		baseURL:    baseURL,
		tokenTTL:   tokenTTL,
		now:        time.Now,
	}
}

// SendReminder renders and dispatches one reminder, records the delivery, and
// always returns a structured result. It never returns an error; callers
// branch on result.Status.
func (s *NotifyService) SendReminder(ctx context.Context, userID, notificationType string) domain.DeliveryResult {
	result := domain.DeliveryResult{
		Method:    domain.MethodEmail,
		Status:    domain.DeliveryFailed,
		Timestamp: s.now(),
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		result.Error = fmt.Sprintf("load user: %v", err)
		s.recordDelivery(ctx, userID, notificationType, result.Method, "", &result)
		return result
	}

	settings, err := s.settings.GetOrCreate(ctx, userID)
	if err == nil && len(settings.NotificationMethods) > 0 {
		result.Method = settings.NotificationMethods[0]
	}

	link, err := s.GenerateCheckInLink(ctx, userID, s.tokenTTL)
	if err != nil {
		result.Error = fmt.Sprintf("generate check-in link: %v", err)
		s.recordDelivery(ctx, userID, notificationType, result.Method, user.Email, &result)
		return result
	}

	subject, body := renderReminder(notificationType, user.DisplayName, link)
	sendErr := s.channel.Send(ctx, OutboundMessage{
		UserID:           userID,
		NotificationType: notificationType,
		Method:           result.Method,
		Recipient:        user.Email,
		Subject:          subject,
		Body:             body,
	})
	if sendErr != nil {
		result.Error = sendErr.Error()
	} else {
		result.Status = domain.DeliverySent
	}

	s.recordDelivery(ctx, userID, notificationType, result.Method, user.Email, &result)
	metrics.IncNotification(notificationType, result.Status)
	return result
}

// SendHandoverAlert fans out one independent attempt per successor; a failed
// attempt never blocks the others.
func (s *NotifyService) SendHandoverAlert(ctx context.Context, userID string, successors []domain.Successor) []domain.DeliveryResult {
	owner := "the account owner"
	if user, err := s.users.GetByID(ctx, userID); err == nil && user.DisplayName != "" {
		owner = user.DisplayName
	}

	results := make([]domain.DeliveryResult, 0, len(successors))
	for _, successor := range successors {
		result := domain.DeliveryResult{
			Method:    domain.MethodEmail,
			Status:    domain.DeliveryFailed,
			Timestamp: s.now(),
		}
		subject := "You have been designated as a successor"
		body := fmt.Sprintf("Hello %s,\n\n%s has not responded to repeated inactivity reminders and a handover process has begun. Please verify your identity and confirm whether you accept the role of successor.", successor.Name, owner)
		err := s.channel.Send(ctx, OutboundMessage{
			UserID:           userID,
			NotificationType: domain.NotifyHandoverAlert,
			Method:           result.Method,
			Recipient:        successor.Email,
			Subject:          subject,
			Body:             body,
		})
		if err != nil {
			result.Error = err.Error()
			log.Warnf("event=notify action=handover_alert status=failed user_id=%s successor_id=%s error=%v", userID, successor.SuccessorID, err)
		} else {
			result.Status = domain.DeliverySent
		}
		s.recordDelivery(ctx, userID, domain.NotifyHandoverAlert, result.Method, successor.Email, &result)
		metrics.IncNotification(domain.NotifyHandoverAlert, result.Status)
		results = append(results, result)
	}
	return results
}

func (s *NotifyService) recordDelivery(ctx context.Context, userID, notificationType, method, recipient string, result *domain.DeliveryResult) {
	delivery, err := s.deliveries.Insert(ctx, domain.NotificationDelivery{
		UserID:           userID,
		NotificationType: notificationType,
		Method:           method,
		Recipient:        recipient,
		Status:           result.Status,
		ErrorMessage:     result.Error,
		RetryCount:       result.RetryCount,
	})
	if err != nil {
		log.Errorf("event=notify action=record_delivery status=failed user_id=%s type=%s error=%v", userID, notificationType, err)
		return
	}
	result.DeliveryID = delivery.DeliveryID
}

// GenerateCheckInLink mints a high-entropy single-use token; only its hash is
// stored, so the server never retains the raw capability.
func (s *NotifyService) GenerateCheckInLink(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = s.tokenTTL
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	if err := s.tokens.Insert(ctx, userID, hashToken(token), s.now().Add(ttl)); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/checkin/confirm?token=%s", s.baseURL, token), nil
}

func (s *NotifyService) ValidateCheckInLink(ctx context.Context, token string) domain.CheckInValidation {
	t, err := s.tokens.Get(ctx, hashToken(token))
	if err != nil {
		return domain.CheckInValidation{Error: "token lookup failed"}
	}
	if t == nil {
		return domain.CheckInValidation{Error: "token not found"}
	}
	if t.UsedAt != nil {
		return domain.CheckInValidation{Error: "token already used"}
	}
	now := s.now()
	if now.After(t.ExpiresAt) {
		return domain.CheckInValidation{Error: "token expired"}
	}
	return domain.CheckInValidation{
		IsValid:       true,
		UserID:        t.UserID,
		RemainingTime: t.ExpiresAt.Sub(now),
	}
}

// MarkCheckInTokenUsed consumes the token exactly once; the conditional
// update guards against concurrent confirmations of the same link.
func (s *NotifyService) MarkCheckInTokenUsed(ctx context.Context, token, ip, userAgent string) (string, error) {
	validation := s.ValidateCheckInLink(ctx, token)
	if !validation.IsValid {
		return "", errors.New(validation.Error)
	}
	matched, err := s.tokens.MarkUsed(ctx, hashToken(token), ip, userAgent)
	if err != nil {
		return "", err
	}
	if !matched {
		return "", errors.New("token already used")
	}
	return validation.UserID, nil
}

// RecentDeliveries lists the user's latest notification attempts, newest
// first.
func (s *NotifyService) RecentDeliveries(ctx context.Context, userID string, limit int) ([]domain.NotificationDelivery, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.deliveries.ListByUser(ctx, userID, limit)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func renderReminder(notificationType, name, link string) (string, string) {
	greeting := "Hello"
	if name != "" {
		greeting = "Hello " + name
	}
	switch notificationType {
	case domain.NotifySecondReminder:
		return "Reminder: please confirm you are still active",
			fmt.Sprintf("%s,\n\nWe still have not seen any activity on your account. If we do not hear from you, your designated successors will be contacted. Confirm you are active here:\n\n%s", greeting, link)
	case domain.NotifyFinalWarning:
		return "Final warning: handover begins soon",
			fmt.Sprintf("%s,\n\nThis is the final warning. Your inactivity threshold is nearly reached; once it passes, the handover of your vault to your successors begins. Check in now to stop it:\n\n%s", greeting, link)
	default:
		return "Are you still there?",
			fmt.Sprintf("%s,\n\nWe have not seen any activity on your account for a while. Nothing will happen yet, but please confirm you are active:\n\n%s", greeting, link)
	}
}
