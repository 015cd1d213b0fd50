package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"deadman_server/server/deadman/domain"
)

type TokenRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRepository(pool *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

func (r *TokenRepository) Insert(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO checkin_tokens(token_hash, user_id, expires_at)
		VALUES($1, $2, $3)
	`, tokenHash, userID, expiresAt)
	return err
}

func (r *TokenRepository) Get(ctx context.Context, tokenHash string) (*domain.CheckInToken, error) {
	var t domain.CheckInToken
	err := r.pool.QueryRow(ctx, `
		SELECT token_hash, user_id, expires_at, used_at, created_at
		FROM checkin_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(&t.TokenHash, &t.UserID, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// MarkUsed sets used_at exactly once and only while the token is unexpired.
func (r *TokenRepository) MarkUsed(ctx context.Context, tokenHash, ip, userAgent string) (bool, error) {
	var matched bool
	err := r.pool.QueryRow(ctx, `
		UPDATE checkin_tokens
		SET used_at = NOW(), used_ip = $2, used_user_agent = $3
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > NOW()
		RETURNING TRUE
	`, tokenHash, ip, userAgent).Scan(&matched)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return matched, nil
}
