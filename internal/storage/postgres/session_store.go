package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/pkg/types"
)

const sessionColumns = `
	id, workspace_id, context_id, tenant_id, ttl_seconds, expires_at,
	auto_commit, committed_at, metadata, created_at, updated_at`

func (s *Store) CreateSession(ctx context.Context, sess *types.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("%w: session id is required", storage.ErrInvalidInput)
	}
	if sess.TenantID == "" {
		sess.TenantID = types.DefaultTenantID
	}

	now := s.now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	metadataJSON, err := marshalSessionMetadata(sess.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sess.ID, sess.WorkspaceID, sess.ContextID, sess.TenantID,
		sess.TTLSeconds, sess.ExpiresAt, sess.AutoCommit,
		nullTime(sess.CommittedAt), metadataJSON, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: session %s", storage.ErrDuplicate, sess.ID)
		}
		return fmt.Errorf("postgres: create session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, scope types.Scope, id string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE id = $1 AND tenant_id = $2 AND workspace_id = $3`,
		id, scope.TenantID, scope.WorkspaceID)
	return scanSession(row, id)
}

func (s *Store) GetSessionByID(ctx context.Context, id string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row, id)
}

func (s *Store) UpdateSession(ctx context.Context, sess *types.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("%w: session id is required", storage.ErrInvalidInput)
	}

	metadataJSON, err := marshalSessionMetadata(sess.Metadata)
	if err != nil {
		return err
	}

	sess.UpdatedAt = s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			ttl_seconds = $1, expires_at = $2, auto_commit = $3,
			committed_at = $4, metadata = $5, updated_at = $6
		WHERE id = $7`,
		sess.TTLSeconds, sess.ExpiresAt, sess.AutoCommit,
		nullTime(sess.CommittedAt), metadataJSON, sess.UpdatedAt, sess.ID)
	if err != nil {
		return fmt.Errorf("postgres: update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: session %s", storage.ErrNotFound, sess.ID)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, scope types.Scope, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1 AND tenant_id = $2 AND workspace_id = $3`,
		id, scope.TenantID, scope.WorkspaceID)
	if err != nil {
		return fmt.Errorf("postgres: delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: session %s", storage.ErrNotFound, id)
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, scope types.Scope, limit, offset int) ([]*types.Session, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE tenant_id = $1 AND workspace_id = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`, scope.TenantID, scope.WorkspaceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectSessions(rows)
}

func (s *Store) ListExpiredSessions(ctx context.Context, limit int) ([]*types.Session, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE expires_at < $1
		ORDER BY expires_at
		LIMIT $2`, s.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list expired sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectSessions(rows)
}

func (s *Store) CleanupExpiredSessions(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("postgres: cleanup expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) SetWorkingMemory(ctx context.Context, e *types.WorkingMemoryEntry) error {
	if e == nil || e.SessionID == "" {
		return fmt.Errorf("%w: session id is required", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(e.Key) == "" {
		return fmt.Errorf("%w: working memory key is required", storage.ErrInvalidInput)
	}

	if _, err := s.GetSessionByID(ctx, e.SessionID); err != nil {
		return err
	}

	valueJSON, err := json.Marshal(e.Value)
	if err != nil {
		return fmt.Errorf("postgres: marshal working memory value: %w", err)
	}

	now := s.now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO working_memory (session_id, key, value, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, key) DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`,
		e.SessionID, e.Key, valueJSON, e.ExpiresAt, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: set working memory: %w", err)
	}
	return nil
}

func (s *Store) GetWorkingMemory(ctx context.Context, sessionID, key string) (*types.WorkingMemoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, key, value, expires_at, created_at, updated_at
		FROM working_memory WHERE session_id = $1 AND key = $2`, sessionID, key)

	e, err := scanWorkingMemory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: working memory %s/%s", storage.ErrNotFound, sessionID, key)
		}
		return nil, err
	}
	return e, nil
}

func (s *Store) ListWorkingMemory(ctx context.Context, sessionID string) ([]*types.WorkingMemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, key, value, expires_at, created_at, updated_at
		FROM working_memory WHERE session_id = $1
		ORDER BY key`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list working memory: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.WorkingMemoryEntry
	for rows.Next() {
		e, err := scanWorkingMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalSessionMetadata(m map[string]interface{}) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal session metadata: %w", err)
	}
	return b, nil
}

func scanSession(row rowScanner, id string) (*types.Session, error) {
	var sess types.Session
	var committedAt sql.NullTime
	var metadataJSON []byte

	err := row.Scan(&sess.ID, &sess.WorkspaceID, &sess.ContextID, &sess.TenantID,
		&sess.TTLSeconds, &sess.ExpiresAt, &sess.AutoCommit,
		&committedAt, &metadataJSON, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: session %s", storage.ErrNotFound, id)
		}
		return nil, fmt.Errorf("postgres: scan session: %w", err)
	}
	if committedAt.Valid {
		t := committedAt.Time
		sess.CommittedAt = &t
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &sess.Metadata); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal session metadata: %w", err)
		}
	}
	return &sess, nil
}

func collectSessions(rows *sql.Rows) ([]*types.Session, error) {
	var out []*types.Session
	for rows.Next() {
		sess, err := scanSession(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func scanWorkingMemory(row rowScanner) (*types.WorkingMemoryEntry, error) {
	var e types.WorkingMemoryEntry
	var valueJSON []byte

	err := row.Scan(&e.SessionID, &e.Key, &valueJSON, &e.ExpiresAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(valueJSON) > 0 {
		if err := json.Unmarshal(valueJSON, &e.Value); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal working memory value: %w", err)
		}
	}
	return &e, nil
}
