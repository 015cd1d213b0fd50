package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"deadman_server/server/deadman/domain"
)

type SettingsRepository struct {
	pool *pgxpool.Pool
}

func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

// GetOrCreate lazily creates a defaults row (90 days, email) on first read.
func (r *SettingsRepository) GetOrCreate(ctx context.Context, userID string) (domain.InactivitySettings, error) {
	defaults, _ := json.Marshal([]string{domain.MethodEmail})

	var s domain.InactivitySettings
	var methodsRaw []byte
	err := r.pool.QueryRow(ctx, `
		INSERT INTO inactivity_settings(user_id, threshold_days, notification_methods)
		VALUES($1, $2, $3::jsonb)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING user_id, threshold_days, notification_methods, is_paused, COALESCE(pause_reason, ''), paused_until, created_at, updated_at
	`, userID, domain.DefaultThresholdDays, string(defaults)).
		Scan(&s.UserID, &s.ThresholdDays, &methodsRaw, &s.IsPaused, &s.PauseReason, &s.PausedUntil, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return domain.InactivitySettings{}, err
	}
	if len(methodsRaw) > 0 {
		_ = json.Unmarshal(methodsRaw, &s.NotificationMethods)
	}
	return s, nil
}

func (r *SettingsRepository) Update(ctx context.Context, userID string, thresholdDays int, methods []string) error {
	methodsRaw, err := json.Marshal(methods)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO inactivity_settings(user_id, threshold_days, notification_methods)
		VALUES($1, $2, $3::jsonb)
		ON CONFLICT (user_id)
		DO UPDATE SET threshold_days = EXCLUDED.threshold_days,
		              notification_methods = EXCLUDED.notification_methods,
		              updated_at = NOW()
	`, userID, thresholdDays, string(methodsRaw))
	return err
}

func (r *SettingsRepository) Pause(ctx context.Context, userID, reason string, until *time.Time) error {
	if _, err := r.GetOrCreate(ctx, userID); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE inactivity_settings
		SET is_paused = TRUE, pause_reason = $2, paused_until = $3, updated_at = NOW()
		WHERE user_id = $1
	`, userID, reason, until)
	return err
}

func (r *SettingsRepository) Resume(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE inactivity_settings
		SET is_paused = FALSE, pause_reason = NULL, paused_until = NULL, updated_at = NOW()
		WHERE user_id = $1
	`, userID)
	return err
}
