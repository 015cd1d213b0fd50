package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"deadman_server/server/deadman/domain"
)

type StatusRepository struct {
	pool *pgxpool.Pool
}

func NewStatusRepository(pool *pgxpool.Pool) *StatusRepository {
	return &StatusRepository{pool: pool}
}

func (r *StatusRepository) Insert(ctx context.Context, rec domain.SystemStatusRecord) (domain.SystemStatusRecord, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO system_status(status, downtime_start, downtime_end, reason)
		VALUES($1, $2, $3, $4)
		RETURNING status_id, created_at
	`, rec.Status, rec.DowntimeStart, rec.DowntimeEnd, rec.Reason).Scan(&rec.StatusID, &rec.CreatedAt)
	if err != nil {
		return domain.SystemStatusRecord{}, err
	}
	return rec, nil
}

// Latest returns the most recent transition row; OPERATIONAL when the ledger
// is empty.
func (r *StatusRepository) Latest(ctx context.Context) (domain.SystemStatusRecord, error) {
	var rec domain.SystemStatusRecord
	err := r.pool.QueryRow(ctx, `
		SELECT status_id, status, downtime_start, downtime_end, COALESCE(reason, ''), created_at
		FROM system_status
		ORDER BY created_at DESC
		LIMIT 1
	`).Scan(&rec.StatusID, &rec.Status, &rec.DowntimeStart, &rec.DowntimeEnd, &rec.Reason, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SystemStatusRecord{Status: domain.SystemOperational}, nil
		}
		return domain.SystemStatusRecord{}, err
	}
	return rec, nil
}

// CloseOpenWindow stamps downtime_end on the most recent open downtime window.
func (r *StatusRepository) CloseOpenWindow(ctx context.Context, end time.Time) (bool, error) {
	var matched bool
	err := r.pool.QueryRow(ctx, `
		UPDATE system_status
		SET downtime_end = $1
		WHERE status_id = (
			SELECT status_id FROM system_status
			WHERE status IN ($2, $3) AND downtime_end IS NULL
			ORDER BY downtime_start DESC
			LIMIT 1
		)
		RETURNING TRUE
	`, end, domain.SystemMaintenance, domain.SystemOutage).Scan(&matched)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return matched, nil
}

// DowntimeSince sums closed MAINTENANCE/OUTAGE windows that started at or
// after the given instant.
func (r *StatusRepository) DowntimeSince(ctx context.Context, since time.Time) (time.Duration, error) {
	var seconds float64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(EXTRACT(EPOCH FROM (downtime_end - downtime_start))), 0)
		FROM system_status
		WHERE status IN ($1, $2)
		  AND downtime_start >= $3
		  AND downtime_end IS NOT NULL
	`, domain.SystemMaintenance, domain.SystemOutage, since).Scan(&seconds)
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
