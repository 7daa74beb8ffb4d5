// Package sqlite provides the SQLite implementation of storage.Store using
// the CGO-free modernc.org/sqlite driver. Vector search ranks candidates with
// in-process cosine similarity over embeddings stored as little-endian
// float32 BLOBs; full-text search is backed by an FTS5 companion table.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/pkg/types"
)

var _ storage.Store = (*Store)(nil)

// Store is the SQLite backend.
type Store struct {
	db  *sql.DB
	now storage.NowFunc
}

// New opens a SQLite database at dsn (a file path or ":memory:"), applies the
// schema, and provisions the reserved workspaces. If the initial open fails
// due to stale WAL files left behind by a crashed process, it removes them
// and retries once.
func New(dsn string) (*Store, error) {
	s, err := open(dsn)
	if err == nil {
		return s, nil
	}

	if dsn == "" || dsn == ":memory:" || !isRecoverableWALError(err) {
		return nil, err
	}

	removeStaleWAL(dsn)

	s, retryErr := open(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("sqlite: failed after WAL recovery: %w (original: %v)", retryErr, err)
	}
	log.Printf("sqlite: recovered from stale WAL files for %s", dsn)
	return s, nil
}

func open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY under concurrent load; WAL
	// mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	s := &Store{db: db, now: storage.UTCNow}

	if err := s.ensureDefaults(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to provision reserved workspaces: %w", err)
	}

	return s, nil
}

// GetDB returns the underlying database connection. Test hook.
func (s *Store) GetDB() *sql.DB { return s.db }

// SetNowFunc overrides the store's clock. Test hook.
func (s *Store) SetNowFunc(now storage.NowFunc) { s.now = now }

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "disk I/O error")
}

func removeStaleWAL(dbPath string) {
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
			log.Printf("sqlite: failed to remove stale %s file: %v", suffix, err)
		}
	}
}

// ensureDefaults provisions the reserved _default and _global workspaces and
// their _default contexts. Idempotent.
func (s *Store) ensureDefaults(ctx context.Context) error {
	now := s.now()
	for _, id := range []string{types.DefaultWorkspaceID, types.GlobalWorkspaceID} {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO workspaces (id, tenant_id, name, settings, created_at, updated_at)
			VALUES (?, ?, ?, NULL, ?, ?)
			ON CONFLICT(tenant_id, id) DO NOTHING`,
			id, types.DefaultTenantID, id, now, now); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO contexts (id, tenant_id, workspace_id, name, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(tenant_id, workspace_id, id) DO NOTHING`,
			types.DefaultContextID, types.DefaultTenantID, id, types.DefaultContextID, now); err != nil {
			return err
		}
	}
	return nil
}

// --- Workspaces and contexts ---

func (s *Store) CreateWorkspace(ctx context.Context, ws *types.Workspace) error {
	if ws == nil || ws.ID == "" {
		return fmt.Errorf("%w: workspace id is required", storage.ErrInvalidInput)
	}
	if ws.TenantID == "" {
		ws.TenantID = types.DefaultTenantID
	}

	settingsJSON, err := json.Marshal(ws.Settings)
	if err != nil {
		return fmt.Errorf("sqlite: marshal workspace settings: %w", err)
	}

	now := s.now()
	ws.CreatedAt = now
	ws.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, tenant_id, name, settings, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ws.ID, ws.TenantID, ws.Name, string(settingsJSON), ws.CreatedAt, ws.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: workspace %s", storage.ErrDuplicate, ws.ID)
		}
		return fmt.Errorf("sqlite: create workspace: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contexts (id, tenant_id, workspace_id, name, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, workspace_id, id) DO NOTHING`,
		types.DefaultContextID, ws.TenantID, ws.ID, types.DefaultContextID, now)
	if err != nil {
		return fmt.Errorf("sqlite: create default context: %w", err)
	}
	return nil
}

func (s *Store) GetWorkspace(ctx context.Context, tenantID, id string) (*types.Workspace, error) {
	if tenantID == "" {
		tenantID = types.DefaultTenantID
	}

	var ws types.Workspace
	var settingsJSON sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, settings, created_at, updated_at
		FROM workspaces WHERE tenant_id = ? AND id = ?`, tenantID, id).
		Scan(&ws.ID, &ws.TenantID, &ws.Name, &settingsJSON, &ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: workspace %s", storage.ErrNotFound, id)
		}
		return nil, fmt.Errorf("sqlite: get workspace: %w", err)
	}
	if settingsJSON.Valid && settingsJSON.String != "" {
		if err := json.Unmarshal([]byte(settingsJSON.String), &ws.Settings); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal workspace settings: %w", err)
		}
	}
	return &ws, nil
}

func (s *Store) UpdateWorkspace(ctx context.Context, ws *types.Workspace) error {
	if ws == nil || ws.ID == "" {
		return fmt.Errorf("%w: workspace id is required", storage.ErrInvalidInput)
	}
	if ws.TenantID == "" {
		ws.TenantID = types.DefaultTenantID
	}

	settingsJSON, err := json.Marshal(ws.Settings)
	if err != nil {
		return fmt.Errorf("sqlite: marshal workspace settings: %w", err)
	}

	ws.UpdatedAt = s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE workspaces SET name = ?, settings = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		ws.Name, string(settingsJSON), ws.UpdatedAt, ws.TenantID, ws.ID)
	if err != nil {
		return fmt.Errorf("sqlite: update workspace: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: workspace %s", storage.ErrNotFound, ws.ID)
	}
	return nil
}

func (s *Store) ListWorkspaceScopes(ctx context.Context) ([]types.Scope, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tenant_id, id FROM workspaces ORDER BY tenant_id, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list workspace scopes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var scopes []types.Scope
	for rows.Next() {
		var sc types.Scope
		if err := rows.Scan(&sc.TenantID, &sc.WorkspaceID); err != nil {
			return nil, fmt.Errorf("sqlite: scan workspace scope: %w", err)
		}
		scopes = append(scopes, sc)
	}
	return scopes, rows.Err()
}

func (s *Store) CreateContext(ctx context.Context, c *types.Context) error {
	if c == nil || c.ID == "" || c.WorkspaceID == "" {
		return fmt.Errorf("%w: context id and workspace id are required", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: context name is required", storage.ErrInvalidInput)
	}
	if c.TenantID == "" {
		c.TenantID = types.DefaultTenantID
	}

	c.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contexts (id, tenant_id, workspace_id, name, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, c.WorkspaceID, c.Name, c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: context %s", storage.ErrDuplicate, c.ID)
		}
		return fmt.Errorf("sqlite: create context: %w", err)
	}
	return nil
}

func (s *Store) GetContext(ctx context.Context, scope types.Scope, id string) (*types.Context, error) {
	var c types.Context
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, workspace_id, name, created_at
		FROM contexts WHERE tenant_id = ? AND workspace_id = ? AND id = ?`,
		scope.TenantID, scope.WorkspaceID, id).
		Scan(&c.ID, &c.TenantID, &c.WorkspaceID, &c.Name, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: context %s", storage.ErrNotFound, id)
		}
		return nil, fmt.Errorf("sqlite: get context: %w", err)
	}
	return &c, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
