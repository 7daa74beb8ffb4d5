package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/pkg/types"
)

func (s *Store) CreateAssociation(ctx context.Context, a *types.Association) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("%w: association id is required", storage.ErrInvalidInput)
	}
	if a.SourceID == a.TargetID {
		return fmt.Errorf("%w: self-association", storage.ErrInvalidInput)
	}
	if a.TenantID == "" {
		a.TenantID = types.DefaultTenantID
	}

	var metadataJSON interface{}
	if len(a.Metadata) > 0 {
		b, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("postgres: marshal association metadata: %w", err)
		}
		metadataJSON = b
	}

	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO associations (id, tenant_id, workspace_id, source_id, target_id, relationship, strength, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.TenantID, a.WorkspaceID, a.SourceID, a.TargetID, a.Relationship, a.Strength, metadataJSON, a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: association %s -> %s (%s)", storage.ErrDuplicate, a.SourceID, a.TargetID, a.Relationship)
		}
		return fmt.Errorf("postgres: create association: %w", err)
	}
	return nil
}

func (s *Store) GetAssociations(ctx context.Context, scope types.Scope, memoryID string, relationships []string, direction types.Direction) ([]*types.Association, error) {
	if direction == "" {
		direction = types.DirectionBoth
	}

	query := `SELECT id, tenant_id, workspace_id, source_id, target_id, relationship, strength, metadata, created_at
		FROM associations WHERE tenant_id = $1 AND workspace_id = $2`
	args := []interface{}{scope.TenantID, scope.WorkspaceID}

	switch direction {
	case types.DirectionOutgoing:
		query += ` AND source_id = $3`
		args = append(args, memoryID)
	case types.DirectionIncoming:
		query += ` AND target_id = $3`
		args = append(args, memoryID)
	default:
		query += ` AND (source_id = $3 OR target_id = $3)`
		args = append(args, memoryID)
	}

	if len(relationships) > 0 {
		query += fmt.Sprintf(` AND relationship = ANY($%d)`, len(args)+1)
		args = append(args, pq.Array(relationships))
	}

	query += ` ORDER BY strength DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: get associations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Association
	for rows.Next() {
		a, err := scanAssociation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) DeleteAssociationsForMemory(ctx context.Context, scope types.Scope, memoryID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM associations
		WHERE tenant_id = $1 AND workspace_id = $2 AND (source_id = $3 OR target_id = $3)`,
		scope.TenantID, scope.WorkspaceID, memoryID)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete associations: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) TraverseGraph(ctx context.Context, scope types.Scope, startID string, maxDepth int, relationships []string, direction types.Direction) ([]types.TraversalPath, error) {
	return storage.BFSTraverse(ctx, s, scope, startID, maxDepth, relationships, direction)
}

func scanAssociation(rows *sql.Rows) (*types.Association, error) {
	var a types.Association
	var metadataJSON []byte
	if err := rows.Scan(&a.ID, &a.TenantID, &a.WorkspaceID, &a.SourceID, &a.TargetID,
		&a.Relationship, &a.Strength, &metadataJSON, &a.CreatedAt); err != nil {
		return nil, fmt.Errorf("postgres: scan association: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &a.Metadata); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal association metadata: %w", err)
		}
	}
	return &a, nil
}
