package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"deadman_server/server/deadman/domain"
)

type DeliveryRepository struct {
	pool *pgxpool.Pool
}

func NewDeliveryRepository(pool *pgxpool.Pool) *DeliveryRepository {
	return &DeliveryRepository{pool: pool}
}

func (r *DeliveryRepository) Insert(ctx context.Context, d domain.NotificationDelivery) (domain.NotificationDelivery, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO notification_deliveries(user_id, notification_type, method, recipient, status, error_message, retry_count)
		VALUES($1, $2, $3, $4, $5, $6, $7)
		RETURNING delivery_id, created_at
	`, d.UserID, d.NotificationType, d.Method, d.Recipient, d.Status, d.ErrorMessage, d.RetryCount).
		Scan(&d.DeliveryID, &d.CreatedAt)
	if err != nil {
		return domain.NotificationDelivery{}, err
	}
	return d, nil
}

// LastSentAt returns when a notification of this exact type last went out
// (SENT or DELIVERED); nil when it never has. Cooldowns are measured from it.
func (r *DeliveryRepository) LastSentAt(ctx context.Context, userID, notificationType string) (*time.Time, error) {
	var at time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT created_at
		FROM notification_deliveries
		WHERE user_id = $1 AND notification_type = $2 AND status IN ($3, $4)
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, notificationType, domain.DeliverySent, domain.DeliveryDelivered).Scan(&at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &at, nil
}

func (r *DeliveryRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.NotificationDelivery, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT delivery_id, user_id, notification_type, method, recipient, status, COALESCE(error_message, ''), retry_count, created_at
		FROM notification_deliveries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deliveries := make([]domain.NotificationDelivery, 0)
	for rows.Next() {
		var d domain.NotificationDelivery
		if err := rows.Scan(&d.DeliveryID, &d.UserID, &d.NotificationType, &d.Method, &d.Recipient, &d.Status, &d.ErrorMessage, &d.RetryCount, &d.CreatedAt); err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}
