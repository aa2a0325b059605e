package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ashita-ai/kenkyu/internal/model"
)

// CreateAgentState records a spawned sub-agent. Fails with ErrDuplicateID
// on id collision. The session is not required to exist — the foreign key
// is logical, matching the relaxed integrity of the schema.
func (db *DB) CreateAgentState(ctx context.Context, id, sessionID, agentName string, focusArea *string, stateData map[string]any) (model.AgentState, error) {
	if id == "" {
		return model.AgentState{}, fmt.Errorf("storage: create agent state: empty id")
	}
	stateJSON, err := marshalMeta(stateData)
	if err != nil {
		return model.AgentState{}, err
	}

	ts := now()
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO agent_states (id, session_id, agent_name, focus_area, status, state_data, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, sessionID, agentName, focusArea, string(model.AgentPending), stateJSON, fmtTime(ts), fmtTime(ts),
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: agent %q", ErrDuplicateID, id)
		}
		if err != nil {
			return fmt.Errorf("storage: create agent state: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.AgentState{}, err
	}

	db.logger.Debug("storage: created agent state", "agent_id", id, "session_id", sessionID, "agent", agentName)
	return db.GetAgentState(ctx, id)
}

// GetAgentState retrieves an agent state by id. Returns ErrNotFound if absent.
func (db *DB) GetAgentState(ctx context.Context, id string) (model.AgentState, error) {
	row := db.sql.QueryRowContext(ctx,
		`SELECT id, session_id, agent_name, focus_area, status, result_path, state_data, created_at, updated_at
		 FROM agent_states WHERE id = ?`, id,
	)
	a, err := scanAgentState(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AgentState{}, fmt.Errorf("%w: agent %q", ErrNotFound, id)
		}
		return model.AgentState{}, fmt.Errorf("storage: get agent state: %w", err)
	}
	return a, nil
}

// UpdateAgentState patches an agent state. Allow-listed fields: status,
// result_path, state_data. An empty patch performs no write.
func (db *DB) UpdateAgentState(ctx context.Context, id string, patch model.AgentStatePatch) error {
	if patch.IsEmpty() {
		return nil
	}

	set := "updated_at = ?"
	args := []any{fmtTime(now())}
	if patch.Status != nil {
		set += ", status = ?"
		args = append(args, string(*patch.Status))
	}
	if patch.ResultPath != nil {
		set += ", result_path = ?"
		args = append(args, *patch.ResultPath)
	}
	if patch.StateData != nil {
		stateJSON, err := marshalMeta(patch.StateData)
		if err != nil {
			return err
		}
		set += ", state_data = ?"
		args = append(args, stateJSON)
	}
	args = append(args, id)

	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE agent_states SET "+set+" WHERE id = ?", args...,
		)
		if err != nil {
			return fmt.Errorf("storage: update agent state: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("storage: update agent state: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: agent %q", ErrNotFound, id)
		}
		return nil
	})
}

// ListSessionAgents returns all agents for a session ordered by creation
// time, oldest first.
func (db *DB) ListSessionAgents(ctx context.Context, sessionID string) ([]model.AgentState, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT id, session_id, agent_name, focus_area, status, result_path, state_data, created_at, updated_at
		 FROM agent_states WHERE session_id = ? ORDER BY created_at ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list session agents: %w", err)
	}
	defer rows.Close()

	var agents []model.AgentState
	for rows.Next() {
		a, err := scanAgentState(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan agent state: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func scanAgentState(row scanner) (model.AgentState, error) {
	var (
		a                     model.AgentState
		focusArea, resultPath sql.NullString
		stateJSON             string
		createdAt, updatedAt  string
	)
	if err := row.Scan(&a.ID, &a.SessionID, &a.AgentName, &focusArea, &a.Status, &resultPath, &stateJSON, &createdAt, &updatedAt); err != nil {
		return model.AgentState{}, err
	}
	if focusArea.Valid {
		a.FocusArea = &focusArea.String
	}
	if resultPath.Valid {
		a.ResultPath = &resultPath.String
	}

	var err error
	if a.StateData, err = unmarshalMeta(stateJSON); err != nil {
		return model.AgentState{}, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.AgentState{}, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.AgentState{}, err
	}
	return a, nil
}
