package trmnl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mealboard/internal/database"
)

const statusID = "singleton"

// Status is the outcome of the last push attempts.
type Status struct {
	LastPushAt    *time.Time `json:"lastPushAt"`
	LastPushError *string    `json:"lastPushError"`
	HasPushed     bool       `json:"hasPushed"`
}

// StatusStore persists push bookkeeping.
type StatusStore interface {
	Status(ctx context.Context) (Status, error)
	LastHash(ctx context.Context) (string, error)
	RecordSuccess(ctx context.Context, hash string, at time.Time) error
	RecordFailure(ctx context.Context, message string) error
}

// StatusRepository stores push bookkeeping in the push_status row.
type StatusRepository struct {
	db *sql.DB
}

// NewStatusRepository creates a new StatusRepository.
func NewStatusRepository(db *database.DB) *StatusRepository {
	return &StatusRepository{db: db.SQL}
}

func (r *StatusRepository) Status(ctx context.Context) (Status, error) {
	var at, msg sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT last_push_at, last_push_error FROM push_status WHERE id = ?`, statusID).Scan(&at, &msg)
	if errors.Is(err, sql.ErrNoRows) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("failed to query push status: %w", err)
	}

	var st Status
	if at.Valid {
		t, err := database.ParseTime(at.String)
		if err != nil {
			return Status{}, err
		}
		st.LastPushAt = &t
		st.HasPushed = true
	}
	if msg.Valid {
		st.LastPushError = &msg.String
	}
	return st, nil
}

func (r *StatusRepository) LastHash(ctx context.Context) (string, error) {
	var hash sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT last_push_hash FROM push_status WHERE id = ?`, statusID).Scan(&hash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to query push hash: %w", err)
	}
	return hash.String, nil
}

func (r *StatusRepository) RecordSuccess(ctx context.Context, hash string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE push_status SET last_push_hash = ?, last_push_at = ?, last_push_error = NULL WHERE id = ?`,
		hash, database.FormatTime(at), statusID)
	if err != nil {
		return fmt.Errorf("failed to record push: %w", err)
	}
	return nil
}

func (r *StatusRepository) RecordFailure(ctx context.Context, message string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE push_status SET last_push_error = ? WHERE id = ?`, message, statusID)
	if err != nil {
		return fmt.Errorf("failed to record push error: %w", err)
	}
	return nil
}
