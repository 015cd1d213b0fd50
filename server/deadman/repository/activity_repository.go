package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"deadman_server/server/deadman/domain"
)

type ActivityRepository struct {
	pool *pgxpool.Pool
}

func NewActivityRepository(pool *pgxpool.Pool) *ActivityRepository {
	return &ActivityRepository{pool: pool}
}

func (r *ActivityRepository) Insert(ctx context.Context, record domain.ActivityRecord) (domain.ActivityRecord, error) {
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return domain.ActivityRecord{}, err
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO activity_records(user_id, activity_type, client_type, ip, user_agent, metadata, signature, created_at)
		VALUES($1, $2, $3, $4, $5, $6::jsonb, $7, $8)
		RETURNING record_id
	`, record.UserID, record.ActivityType, record.ClientType, record.IP, record.UserAgent, string(metadata), record.Signature, record.CreatedAt).
		Scan(&record.RecordID)
	if err != nil {
		return domain.ActivityRecord{}, err
	}
	return record, nil
}

func (r *ActivityRepository) LatestByUser(ctx context.Context, userID string) (*domain.ActivityRecord, error) {
	var rec domain.ActivityRecord
	var metadataRaw []byte
	err := r.pool.QueryRow(ctx, `
		SELECT record_id, user_id, activity_type, client_type, ip, user_agent, metadata, signature, created_at
		FROM activity_records
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, userID).Scan(&rec.RecordID, &rec.UserID, &rec.ActivityType, &rec.ClientType, &rec.IP, &rec.UserAgent, &metadataRaw, &rec.Signature, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(metadataRaw) > 0 {
		_ = json.Unmarshal(metadataRaw, &rec.Metadata)
	}
	return &rec, nil
}

type ActivityQuery struct {
	Limit  int
	Offset int
	From   *time.Time
	To     *time.Time
	Types  []string
}

func (r *ActivityRepository) ListByUser(ctx context.Context, userID string, q ActivityQuery) ([]domain.ActivityRecord, int, error) {
	filter := `
		WHERE user_id = $1
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at <= $3)
		  AND ($4::text[] IS NULL OR activity_type = ANY($4))
	`
	var types any
	if len(q.Types) > 0 {
		types = q.Types
	}

	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM activity_records`+filter, userID, q.From, q.To, types).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT record_id, user_id, activity_type, client_type, ip, user_agent, metadata, signature, created_at
		FROM activity_records`+filter+`
		ORDER BY created_at DESC
		LIMIT $5 OFFSET $6
	`, userID, q.From, q.To, types, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := make([]domain.ActivityRecord, 0)
	for rows.Next() {
		var rec domain.ActivityRecord
		var metadataRaw []byte
		if err := rows.Scan(&rec.RecordID, &rec.UserID, &rec.ActivityType, &rec.ClientType, &rec.IP, &rec.UserAgent, &metadataRaw, &rec.Signature, &rec.CreatedAt); err != nil {
			return nil, 0, err
		}
		if len(metadataRaw) > 0 {
			_ = json.Unmarshal(metadataRaw, &rec.Metadata)
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}
