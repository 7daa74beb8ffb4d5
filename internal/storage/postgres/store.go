// Package postgres provides the PostgreSQL implementation of storage.Store
// using lib/pq. Vector search runs through the pgvector extension when it is
// installed and degrades to in-process cosine ranking when it is not.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/pkg/types"
)

var _ storage.Store = (*Store)(nil)

// Store is the PostgreSQL backend.
type Store struct {
	db                *sql.DB
	pgvectorAvailable bool
	now               storage.NowFunc
}

// New opens a PostgreSQL connection, applies the schema, probes for the
// pgvector extension, and provisions the reserved workspaces. A missing
// pgvector extension is logged and vector search falls back to in-process
// cosine ranking.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	s := &Store{db: db, now: storage.UTCNow}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to apply schema: %w", err)
	}

	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		log.Printf("postgres: pgvector extension not available, falling back to in-process ranking: %v", err)
	} else if _, err := db.Exec(MigrationPgvector); err != nil {
		log.Printf("postgres: pgvector migration failed, falling back to in-process ranking: %v", err)
	} else {
		s.pgvectorAvailable = true
	}

	if err := s.ensureDefaults(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to provision reserved workspaces: %w", err)
	}

	return s, nil
}

// GetDB returns the underlying database connection. Test hook.
func (s *Store) GetDB() *sql.DB { return s.db }

// SetNowFunc overrides the store's clock. Test hook.
func (s *Store) SetNowFunc(now storage.NowFunc) { s.now = now }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) ensureDefaults(ctx context.Context) error {
	now := s.now()
	for _, id := range []string{types.DefaultWorkspaceID, types.GlobalWorkspaceID} {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO workspaces (id, tenant_id, name, settings, created_at, updated_at)
			VALUES ($1, $2, $3, NULL, $4, $5)
			ON CONFLICT (tenant_id, id) DO NOTHING`,
			id, types.DefaultTenantID, id, now, now); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO contexts (id, tenant_id, workspace_id, name, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (tenant_id, workspace_id, id) DO NOTHING`,
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
		return fmt.Errorf("postgres: marshal workspace settings: %w", err)
	}

	now := s.now()
	ws.CreatedAt = now
	ws.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, tenant_id, name, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ws.ID, ws.TenantID, ws.Name, settingsJSON, ws.CreatedAt, ws.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: workspace %s", storage.ErrDuplicate, ws.ID)
		}
		return fmt.Errorf("postgres: create workspace: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contexts (id, tenant_id, workspace_id, name, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, workspace_id, id) DO NOTHING`,
		types.DefaultContextID, ws.TenantID, ws.ID, types.DefaultContextID, now)
	if err != nil {
		return fmt.Errorf("postgres: create default context: %w", err)
	}
	return nil
}

func (s *Store) GetWorkspace(ctx context.Context, tenantID, id string) (*types.Workspace, error) {
	if tenantID == "" {
		tenantID = types.DefaultTenantID
	}

	var ws types.Workspace
	var settingsJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, settings, created_at, updated_at
		FROM workspaces WHERE tenant_id = $1 AND id = $2`, tenantID, id).
		Scan(&ws.ID, &ws.TenantID, &ws.Name, &settingsJSON, &ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: workspace %s", storage.ErrNotFound, id)
		}
		return nil, fmt.Errorf("postgres: get workspace: %w", err)
	}
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &ws.Settings); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal workspace settings: %w", err)
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
		return fmt.Errorf("postgres: marshal workspace settings: %w", err)
	}

	ws.UpdatedAt = s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE workspaces SET name = $1, settings = $2, updated_at = $3
		WHERE tenant_id = $4 AND id = $5`,
		ws.Name, settingsJSON, ws.UpdatedAt, ws.TenantID, ws.ID)
	if err != nil {
		return fmt.Errorf("postgres: update workspace: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: workspace %s", storage.ErrNotFound, ws.ID)
	}
	return nil
}

func (s *Store) ListWorkspaceScopes(ctx context.Context) ([]types.Scope, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tenant_id, id FROM workspaces ORDER BY tenant_id, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list workspace scopes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var scopes []types.Scope
	for rows.Next() {
		var sc types.Scope
		if err := rows.Scan(&sc.TenantID, &sc.WorkspaceID); err != nil {
			return nil, fmt.Errorf("postgres: scan workspace scope: %w", err)
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
		VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.TenantID, c.WorkspaceID, c.Name, c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: context %s", storage.ErrDuplicate, c.ID)
		}
		return fmt.Errorf("postgres: create context: %w", err)
	}
	return nil
}

func (s *Store) GetContext(ctx context.Context, scope types.Scope, id string) (*types.Context, error) {
	var c types.Context
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, workspace_id, name, created_at
		FROM contexts WHERE tenant_id = $1 AND workspace_id = $2 AND id = $3`,
		scope.TenantID, scope.WorkspaceID, id).
		Scan(&c.ID, &c.TenantID, &c.WorkspaceID, &c.Name, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: context %s", storage.ErrNotFound, id)
		}
		return nil, fmt.Errorf("postgres: get context: %w", err)
	}
	return &c, nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
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
