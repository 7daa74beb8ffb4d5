package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/pkg/types"
)

const contradictionColumns = `
	id, tenant_id, workspace_id, memory_a_id, memory_b_id, contradiction_type,
	confidence, detection_method, detected_at, resolved_at, resolution, merged_content`

func (s *Store) CreateContradiction(ctx context.Context, c *types.Contradiction) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: contradiction id is required", storage.ErrInvalidInput)
	}
	if c.TenantID == "" {
		c.TenantID = types.DefaultTenantID
	}
	if c.DetectedAt.IsZero() {
		c.DetectedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contradictions (`+contradictionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.TenantID, c.WorkspaceID, c.MemoryAID, c.MemoryBID, c.ContradictionType,
		c.Confidence, c.DetectionMethod, c.DetectedAt,
		nullTime(c.ResolvedAt), nullString(string(c.Resolution)), nullString(c.MergedContent))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: contradiction %s", storage.ErrDuplicate, c.ID)
		}
		return fmt.Errorf("postgres: create contradiction: %w", err)
	}
	return nil
}

func (s *Store) GetContradiction(ctx context.Context, scope types.Scope, id string) (*types.Contradiction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+contradictionColumns+` FROM contradictions
		WHERE id = $1 AND tenant_id = $2 AND workspace_id = $3`,
		id, scope.TenantID, scope.WorkspaceID)

	c, err := scanContradiction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: contradiction %s", storage.ErrNotFound, id)
		}
		return nil, err
	}
	return c, nil
}

func (s *Store) UpdateContradiction(ctx context.Context, c *types.Contradiction) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: contradiction id is required", storage.ErrInvalidInput)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE contradictions SET
			confidence = $1, resolved_at = $2, resolution = $3, merged_content = $4
		WHERE id = $5`,
		c.Confidence, nullTime(c.ResolvedAt), nullString(string(c.Resolution)),
		nullString(c.MergedContent), c.ID)
	if err != nil {
		return fmt.Errorf("postgres: update contradiction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: contradiction %s", storage.ErrNotFound, c.ID)
	}
	return nil
}

func (s *Store) ListUnresolvedContradictions(ctx context.Context, scope types.Scope, limit int) ([]*types.Contradiction, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contradictionColumns+` FROM contradictions
		WHERE tenant_id = $1 AND workspace_id = $2 AND resolved_at IS NULL
		ORDER BY detected_at DESC
		LIMIT $3`, scope.TenantID, scope.WorkspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unresolved contradictions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Contradiction
	for rows.Next() {
		c, err := scanContradiction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanContradiction(row rowScanner) (*types.Contradiction, error) {
	var c types.Contradiction
	var resolvedAt sql.NullTime
	var resolution, mergedContent sql.NullString

	err := row.Scan(&c.ID, &c.TenantID, &c.WorkspaceID, &c.MemoryAID, &c.MemoryBID,
		&c.ContradictionType, &c.Confidence, &c.DetectionMethod, &c.DetectedAt,
		&resolvedAt, &resolution, &mergedContent)
	if err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		c.ResolvedAt = &t
	}
	if resolution.Valid {
		c.Resolution = types.Resolution(resolution.String)
	}
	if mergedContent.Valid {
		c.MergedContent = mergedContent.String
	}
	return &c, nil
}
