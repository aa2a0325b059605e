package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ashita-ai/kenkyu/internal/model"
)

// CreateSession inserts a new research session and returns it.
// Fails with ErrDuplicateID if a session with this id already exists.
func (db *DB) CreateSession(ctx context.Context, id, problem string, metadata map[string]any) (model.Session, error) {
	if id == "" {
		return model.Session{}, fmt.Errorf("storage: create session: empty id")
	}
	metaJSON, err := marshalMeta(metadata)
	if err != nil {
		return model.Session{}, err
	}

	ts := now()
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO research_sessions (id, problem, status, metadata, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id, problem, string(model.SessionActive), metaJSON, fmtTime(ts), fmtTime(ts),
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: session %q", ErrDuplicateID, id)
		}
		if err != nil {
			return fmt.Errorf("storage: create session: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Session{}, err
	}

	db.logger.Info("storage: created session", "session_id", id)
	return db.GetSession(ctx, id)
}

// GetSession retrieves a session by id. Returns ErrNotFound if absent.
func (db *DB) GetSession(ctx context.Context, id string) (model.Session, error) {
	row := db.sql.QueryRowContext(ctx,
		`SELECT id, problem, status, plan, metadata, created_at, updated_at
		 FROM research_sessions WHERE id = ?`, id,
	)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, fmt.Errorf("%w: session %q", ErrNotFound, id)
		}
		return model.Session{}, fmt.Errorf("storage: get session: %w", err)
	}
	return s, nil
}

// UpdateSession patches a session. Only the allow-listed fields (problem,
// status, plan, metadata) can change; updated_at is always refreshed.
// An empty patch is a no-op and performs no write.
func (db *DB) UpdateSession(ctx context.Context, id string, patch model.SessionPatch) error {
	if patch.IsEmpty() {
		return nil
	}

	set := "updated_at = ?"
	args := []any{fmtTime(now())}
	if patch.Problem != nil {
		set += ", problem = ?"
		args = append(args, *patch.Problem)
	}
	if patch.Status != nil {
		set += ", status = ?"
		args = append(args, string(*patch.Status))
	}
	if patch.Plan != nil {
		set += ", plan = ?"
		args = append(args, *patch.Plan)
	}
	if patch.Metadata != nil {
		metaJSON, err := marshalMeta(patch.Metadata)
		if err != nil {
			return err
		}
		set += ", metadata = ?"
		args = append(args, metaJSON)
	}
	args = append(args, id)

	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE research_sessions SET "+set+" WHERE id = ?", args...,
		)
		if err != nil {
			return fmt.Errorf("storage: update session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("storage: update session: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: session %q", ErrNotFound, id)
		}
		return nil
	})
}

// ListSessions returns sessions ordered by creation time, newest first.
// A non-nil status restricts the result to exact matches.
func (db *DB) ListSessions(ctx context.Context, status *model.SessionStatus) ([]model.Session, error) {
	query := `SELECT id, problem, status, plan, metadata, created_at, updated_at
	          FROM research_sessions`
	var args []any
	if status != nil {
		query += " WHERE status = ?"
		args = append(args, string(*status))
	}
	query += " ORDER BY created_at DESC"

	rows, err := db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (model.Session, error) {
	var (
		s                    model.Session
		plan                 sql.NullString
		metaJSON             string
		createdAt, updatedAt string
	)
	if err := row.Scan(&s.ID, &s.Problem, &s.Status, &plan, &metaJSON, &createdAt, &updatedAt); err != nil {
		return model.Session{}, err
	}
	if plan.Valid {
		s.Plan = &plan.String
	}

	var err error
	if s.Metadata, err = unmarshalMeta(metaJSON); err != nil {
		return model.Session{}, err
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Session{}, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Session{}, err
	}
	return s, nil
}
