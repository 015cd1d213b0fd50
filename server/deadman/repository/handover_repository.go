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

type HandoverRepository struct {
	pool *pgxpool.Pool
}

func NewHandoverRepository(pool *pgxpool.Pool) *HandoverRepository {
	return &HandoverRepository{pool: pool}
}

const handoverColumns = `process_id, user_id, status, initiated_at, grace_period_ends, completed_at, cancelled_at, COALESCE(cancellation_reason, ''), metadata`

func scanHandover(row pgx.Row) (domain.HandoverProcess, error) {
	var p domain.HandoverProcess
	var metadataRaw []byte
	err := row.Scan(&p.ProcessID, &p.UserID, &p.Status, &p.InitiatedAt, &p.GracePeriodEnds, &p.CompletedAt, &p.CancelledAt, &p.CancellationReason, &metadataRaw)
	if err != nil {
		return domain.HandoverProcess{}, err
	}
	if len(metadataRaw) > 0 {
		_ = json.Unmarshal(metadataRaw, &p.Metadata)
	}
	return p, nil
}

// InsertIfNone opens a new GRACE_PERIOD process unless the user already has a
// non-terminal one. The guard is the partial unique index on user_id over
// non-terminal rows, which holds across concurrent executors; two racing
// inserts resolve to one row. Returns the inserted process, or nil when the
// conflict fired (the caller re-reads the existing process).
func (r *HandoverRepository) InsertIfNone(ctx context.Context, userID string, graceEnds time.Time, metadata map[string]any) (*domain.HandoverProcess, error) {
	metadataRaw, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO handover_processes(user_id, status, grace_period_ends, metadata)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (user_id) WHERE status NOT IN ('COMPLETED', 'CANCELLED') DO NOTHING
		RETURNING `+handoverColumns,
		userID, domain.HandoverGracePeriod, graceEnds, string(metadataRaw))
	p, err := scanHandover(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *HandoverRepository) GetActiveByUser(ctx context.Context, userID string) (*domain.HandoverProcess, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+handoverColumns+`
		FROM handover_processes
		WHERE user_id = $1 AND status NOT IN ($2, $3)
		ORDER BY initiated_at DESC
		LIMIT 1
	`, userID, domain.HandoverCompleted, domain.HandoverCancelled)
	p, err := scanHandover(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *HandoverRepository) GetByID(ctx context.Context, processID string) (domain.HandoverProcess, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+handoverColumns+`
		FROM handover_processes
		WHERE process_id = $1
	`, processID)
	p, err := scanHandover(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.HandoverProcess{}, ErrNotFound
		}
		return domain.HandoverProcess{}, err
	}
	return p, nil
}

// Cancel flips any non-terminal process for the user to CANCELLED. A false
// return means nothing matched, which is a benign no-op for callers.
func (r *HandoverRepository) Cancel(ctx context.Context, userID, reason string) (bool, error) {
	var matched bool
	err := r.pool.QueryRow(ctx, `
		UPDATE handover_processes
		SET status = $3, cancelled_at = NOW(), cancellation_reason = $2, updated_at = NOW()
		WHERE user_id = $1 AND status NOT IN ($4, $5)
		RETURNING TRUE
	`, userID, reason, domain.HandoverCancelled, domain.HandoverCompleted, domain.HandoverCancelled).Scan(&matched)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return matched, nil
}

// AdvanceStatus is the single guarded transition primitive: the update only
// lands when the row still carries the expected prior status, so overlapping
// sweeps race harmlessly (the loser matches zero rows).
func (r *HandoverRepository) AdvanceStatus(ctx context.Context, processID, from, to string) (bool, error) {
	var matched bool
	err := r.pool.QueryRow(ctx, `
		UPDATE handover_processes
		SET status = $3,
		    completed_at = CASE WHEN $3 = $4 THEN NOW() ELSE completed_at END,
		    updated_at = NOW()
		WHERE process_id = $1 AND status = $2
		RETURNING TRUE
	`, processID, from, to, domain.HandoverCompleted).Scan(&matched)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return matched, nil
}

// NeedingAttention returns the sweep's action queue: expired grace periods
// plus every later non-terminal phase.
func (r *HandoverRepository) NeedingAttention(ctx context.Context, now time.Time) ([]domain.HandoverProcess, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+handoverColumns+`
		FROM handover_processes
		WHERE (status = $1 AND grace_period_ends <= $2)
		   OR status IN ($3, $4, $5)
		ORDER BY initiated_at
	`, domain.HandoverGracePeriod, now, domain.HandoverAwaitingSuccessors, domain.HandoverVerificationPending, domain.HandoverReadyForTransfer)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	processes := make([]domain.HandoverProcess, 0)
	for rows.Next() {
		p, err := scanHandover(rows)
		if err != nil {
			return nil, err
		}
		processes = append(processes, p)
	}
	return processes, rows.Err()
}
