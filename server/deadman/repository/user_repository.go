package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"deadman_server/server/deadman/domain"
)

var ErrNotFound = errors.New("not found")

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) Create(ctx context.Context, user domain.User) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users(email, display_name, password_hash, role)
		VALUES($1, $2, $3, $4)
		RETURNING user_id
	`, user.Email, user.DisplayName, user.PasswordHash, user.Role).Scan(&id)
	return id, err
}

func (r *UserRepository) GetByID(ctx context.Context, userID string) (domain.User, error) {
	var u domain.User
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, email, display_name, password_hash, role, last_login_at, created_at
		FROM users
		WHERE user_id = $1
	`, userID).Scan(&u.UserID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.Role, &u.LastLoginAt, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrNotFound
		}
		return domain.User{}, err
	}
	return u, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	var u domain.User
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, email, display_name, password_hash, role, last_login_at, created_at
		FROM users
		WHERE email = $1
	`, email).Scan(&u.UserID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.Role, &u.LastLoginAt, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrNotFound
		}
		return domain.User{}, err
	}
	return u, nil
}

func (r *UserRepository) TouchLastLogin(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET last_login_at = NOW() WHERE user_id = $1
	`, userID)
	return err
}

// ListTrackedUserIDs returns every user whose inactivity tracking is not
// permanently paused. Users without a settings row are tracked with defaults.
// Temporary pauses (paused_until in the future) are filtered per check, not
// here, so that lapsed pauses resume without a settings write.
func (r *UserRepository) ListTrackedUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT u.user_id
		FROM users u
		LEFT JOIN inactivity_settings s ON s.user_id = u.user_id
		WHERE s.user_id IS NULL
		   OR s.is_paused = FALSE
		   OR s.paused_until IS NOT NULL
		ORDER BY u.created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
