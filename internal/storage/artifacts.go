package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ashita-ai/kenkyu/internal/model"
)

// CreateArtifactRequest carries the fields for one artifact insert.
type CreateArtifactRequest struct {
	ID           string
	SessionID    string
	AgentID      *string
	ArtifactType string
	FilePath     string
	ContentHash  *string
	Metadata     map[string]any
}

// CreateArtifact records a produced output file. Artifacts are write-once:
// no update operation exists.
func (db *DB) CreateArtifact(ctx context.Context, req CreateArtifactRequest) (model.Artifact, error) {
	if req.ID == "" {
		return model.Artifact{}, fmt.Errorf("storage: create artifact: empty id")
	}
	metaJSON, err := marshalMeta(req.Metadata)
	if err != nil {
		return model.Artifact{}, err
	}

	a := model.Artifact{
		ID:           req.ID,
		SessionID:    req.SessionID,
		AgentID:      req.AgentID,
		ArtifactType: req.ArtifactType,
		FilePath:     req.FilePath,
		ContentHash:  req.ContentHash,
		Metadata:     req.Metadata,
		CreatedAt:    now(),
	}
	if a.Metadata == nil {
		a.Metadata = map[string]any{}
	}

	err = db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO research_artifacts (id, session_id, agent_id, artifact_type, file_path, content_hash, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.SessionID, a.AgentID, a.ArtifactType, a.FilePath, a.ContentHash, metaJSON, fmtTime(a.CreatedAt),
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: artifact %q", ErrDuplicateID, a.ID)
		}
		if err != nil {
			return fmt.Errorf("storage: create artifact: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Artifact{}, err
	}
	return a, nil
}

// ListSessionArtifacts returns all artifacts for a session ordered by
// creation time, oldest first.
func (db *DB) ListSessionArtifacts(ctx context.Context, sessionID string) ([]model.Artifact, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT id, session_id, agent_id, artifact_type, file_path, content_hash, metadata, created_at
		 FROM research_artifacts WHERE session_id = ? ORDER BY created_at ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list session artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []model.Artifact
	for rows.Next() {
		var (
			a                    model.Artifact
			agentID, contentHash sql.NullString
			metaJSON, createdAt  string
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &agentID, &a.ArtifactType, &a.FilePath, &contentHash, &metaJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("storage: scan artifact: %w", err)
		}
		if agentID.Valid {
			a.AgentID = &agentID.String
		}
		if contentHash.Valid {
			a.ContentHash = &contentHash.String
		}
		if a.Metadata, err = unmarshalMeta(metaJSON); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}
