package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"deadman_server/server/deadman/domain"
)

type SuccessorRepository struct {
	pool *pgxpool.Pool
}

func NewSuccessorRepository(pool *pgxpool.Pool) *SuccessorRepository {
	return &SuccessorRepository{pool: pool}
}

func (r *SuccessorRepository) Add(ctx context.Context, userID, email, name string) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO successors(user_id, email, name)
		VALUES($1, $2, $3)
		RETURNING successor_id
	`, userID, email, name).Scan(&id)
	return id, err
}

func (r *SuccessorRepository) Remove(ctx context.Context, userID, successorID string) (bool, error) {
	var matched bool
	err := r.pool.QueryRow(ctx, `
		DELETE FROM successors
		WHERE user_id = $1 AND successor_id = $2
		RETURNING TRUE
	`, userID, successorID).Scan(&matched)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return matched, nil
}

func (r *SuccessorRepository) ListByUser(ctx context.Context, userID string) ([]domain.Successor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT successor_id, user_id, email, name, created_at
		FROM successors
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	successors := make([]domain.Successor, 0)
	for rows.Next() {
		var s domain.Successor
		if err := rows.Scan(&s.SuccessorID, &s.UserID, &s.Email, &s.Name, &s.CreatedAt); err != nil {
			return nil, err
		}
		successors = append(successors, s)
	}
	return successors, rows.Err()
}

func (r *SuccessorRepository) UpsertResponse(ctx context.Context, processID, successorID, response, note string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO handover_successor_responses(process_id, successor_id, response, note)
		VALUES($1, $2, $3, $4)
		ON CONFLICT (process_id, successor_id)
		DO UPDATE SET response = EXCLUDED.response, note = EXCLUDED.note, responded_at = NOW()
	`, processID, successorID, response, note)
	return err
}

func (r *SuccessorRepository) ListResponses(ctx context.Context, processID string) ([]domain.SuccessorResponse, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT process_id, successor_id, response, COALESCE(note, ''), responded_at
		FROM handover_successor_responses
		WHERE process_id = $1
		ORDER BY responded_at
	`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	responses := make([]domain.SuccessorResponse, 0)
	for rows.Next() {
		var resp domain.SuccessorResponse
		if err := rows.Scan(&resp.ProcessID, &resp.SuccessorID, &resp.Response, &resp.Note, &resp.RespondedAt); err != nil {
			return nil, err
		}
		responses = append(responses, resp)
	}
	return responses, rows.Err()
}
