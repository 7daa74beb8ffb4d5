package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/pkg/types"
)

const memoryColumns = `
	id, tenant_id, workspace_id, context_id, content, content_hash,
	type, subtype, category, tags, metadata,
	importance, decay_factor, access_count, last_accessed_at,
	abstract, overview, status, pinned, source_memory_id, embedding,
	created_at, updated_at, deleted_at`

func (s *Store) CreateMemory(ctx context.Context, m *types.Memory) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("%w: memory id is required", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: memory content is required", storage.ErrInvalidInput)
	}
	if m.WorkspaceID == "" {
		return fmt.Errorf("%w: workspace id is required", storage.ErrInvalidInput)
	}
	if m.TenantID == "" {
		m.TenantID = types.DefaultTenantID
	}

	now := s.now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.Status == "" {
		m.Status = types.StatusActive
	}
	if m.ContentHash == "" {
		m.ContentHash = types.HashContent(m.Content)
	}
	m.Tags = types.NormalizeTags(m.Tags)

	tagsJSON, metadataJSON, err := marshalMemoryJSON(m)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (`+memoryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`,
		m.ID, m.TenantID, m.WorkspaceID, m.ContextID, m.Content, m.ContentHash,
		string(m.Type), nullString(string(m.Subtype)), nullString(m.Category), tagsJSON, metadataJSON,
		m.Importance, m.DecayFactor, m.AccessCount, nullTime(m.LastAccessedAt),
		nullString(m.Abstract), nullString(m.Overview), string(m.Status), m.Pinned, nullString(m.SourceMemoryID),
		storage.SerializeVector(m.Embedding),
		m.CreatedAt, m.UpdatedAt, nullTime(m.DeletedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: memory %s", storage.ErrDuplicate, m.ID)
		}
		return fmt.Errorf("postgres: create memory: %w", err)
	}

	return s.syncEmbeddingVec(ctx, m.ID, m.Embedding)
}

func (s *Store) UpdateMemory(ctx context.Context, m *types.Memory) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("%w: memory id is required", storage.ErrInvalidInput)
	}

	m.UpdatedAt = s.now()
	m.ContentHash = types.HashContent(m.Content)
	m.Tags = types.NormalizeTags(m.Tags)

	tagsJSON, metadataJSON, err := marshalMemoryJSON(m)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET
			content = $1, content_hash = $2, type = $3, subtype = $4, category = $5,
			tags = $6, metadata = $7, importance = $8, decay_factor = $9,
			access_count = $10, last_accessed_at = $11,
			abstract = $12, overview = $13, status = $14, pinned = $15, source_memory_id = $16,
			embedding = $17, updated_at = $18, deleted_at = $19
		WHERE id = $20`,
		m.Content, m.ContentHash, string(m.Type), nullString(string(m.Subtype)), nullString(m.Category),
		tagsJSON, metadataJSON, m.Importance, m.DecayFactor,
		m.AccessCount, nullTime(m.LastAccessedAt),
		nullString(m.Abstract), nullString(m.Overview), string(m.Status), m.Pinned, nullString(m.SourceMemoryID),
		storage.SerializeVector(m.Embedding), m.UpdatedAt, nullTime(m.DeletedAt),
		m.ID)
	if err != nil {
		return fmt.Errorf("postgres: update memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: memory %s", storage.ErrNotFound, m.ID)
	}

	return s.syncEmbeddingVec(ctx, m.ID, m.Embedding)
}

// syncEmbeddingVec mirrors the BYTEA embedding into the pgvector column.
func (s *Store) syncEmbeddingVec(ctx context.Context, id string, embedding []float32) error {
	if !s.pgvectorAvailable || len(embedding) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET embedding_vec = $1 WHERE id = $2`,
		pgvector.NewVector(embedding), id)
	if err != nil {
		return fmt.Errorf("postgres: sync embedding vector: %w", err)
	}
	return nil
}

func (s *Store) GetMemory(ctx context.Context, scope types.Scope, id string, trackAccess bool) (*types.Memory, error) {
	if trackAccess {
		return s.trackAndGet(ctx, `id = $1 AND tenant_id = $2 AND workspace_id = $3`,
			id, scope.TenantID, scope.WorkspaceID)
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE id = $1 AND tenant_id = $2 AND workspace_id = $3 AND status != 'deleted'`,
		id, scope.TenantID, scope.WorkspaceID)
	return scanMemoryNotFound(row, id)
}

func (s *Store) GetMemoryByID(ctx context.Context, id string, trackAccess bool) (*types.Memory, error) {
	if trackAccess {
		return s.trackAndGet(ctx, `id = $1`, id)
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE id = $1 AND status != 'deleted'`, id)
	return scanMemoryNotFound(row, id)
}

// trackAndGet bumps the access counters and returns the updated row in a
// single round trip via RETURNING.
func (s *Store) trackAndGet(ctx context.Context, where string, args ...interface{}) (*types.Memory, error) {
	nowArg := len(args) + 1
	query := fmt.Sprintf(`
		UPDATE memories SET access_count = access_count + 1, last_accessed_at = $%d
		WHERE %s AND status != 'deleted'
		RETURNING `+memoryColumns, nowArg, where)
	args = append(args, s.now())

	row := s.db.QueryRowContext(ctx, query, args...)
	return scanMemoryNotFound(row, fmt.Sprintf("%v", args[0]))
}

func (s *Store) GetMemoryByHash(ctx context.Context, scope types.Scope, hash string) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE tenant_id = $1 AND workspace_id = $2 AND content_hash = $3 AND status != 'deleted'
		LIMIT 1`, scope.TenantID, scope.WorkspaceID, hash)
	m, err := scanMemory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no memory with hash", storage.ErrNotFound)
		}
		return nil, err
	}
	return m, nil
}

func (s *Store) DeleteMemory(ctx context.Context, scope types.Scope, id string, hard bool) (bool, error) {
	if hard {
		if _, err := s.DeleteAssociationsForMemory(ctx, scope, id); err != nil {
			return false, err
		}
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM memories WHERE id = $1 AND tenant_id = $2 AND workspace_id = $3`,
			id, scope.TenantID, scope.WorkspaceID)
		if err != nil {
			return false, fmt.Errorf("postgres: hard delete memory: %w", err)
		}
		n, _ := res.RowsAffected()
		return n > 0, nil
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET status = 'deleted', deleted_at = $1, updated_at = $2
		WHERE id = $3 AND tenant_id = $4 AND workspace_id = $5 AND status != 'deleted'`,
		now, now, id, scope.TenantID, scope.WorkspaceID)
	if err != nil {
		return false, fmt.Errorf("postgres: soft delete memory: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) IncrementAccess(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET access_count = access_count + 1, last_accessed_at = $1
		WHERE id = $2 AND status != 'deleted'`, s.now(), id)
	if err != nil {
		return fmt.Errorf("postgres: increment access: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: memory %s", storage.ErrNotFound, id)
	}
	return nil
}

func (s *Store) SearchMemories(ctx context.Context, scope types.Scope, queryVec []float32, opts storage.SearchOptions) ([]storage.SearchResult, error) {
	opts.Normalize()
	if len(queryVec) == 0 {
		return nil, nil
	}
	if s.pgvectorAvailable {
		return s.searchPgvector(ctx, scope, queryVec, opts)
	}
	return s.searchInProcess(ctx, scope, queryVec, opts)
}

// searchPgvector ranks with the native cosine distance operator. Type, tag,
// and relevance filters are applied after the scan, so the candidate set is
// over-fetched.
func (s *Store) searchPgvector(ctx context.Context, scope types.Scope, queryVec []float32, opts storage.SearchOptions) ([]storage.SearchResult, error) {
	candidateLimit := (opts.Limit + opts.Offset) * 3
	if candidateLimit < 50 {
		candidateLimit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+`, 1 - (embedding_vec <=> $1) AS relevance
		FROM memories
		WHERE tenant_id = $2 AND workspace_id = $3 AND status != 'deleted' AND embedding_vec IS NOT NULL
		ORDER BY embedding_vec <=> $1
		LIMIT $4`, pgvector.NewVector(queryVec), scope.TenantID, scope.WorkspaceID, candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []storage.SearchResult
	for rows.Next() {
		m, rel, err := scanMemoryWithRelevance(rows)
		if err != nil {
			return nil, err
		}
		if !storage.MatchesOptions(m, opts) || rel < opts.MinRelevance {
			continue
		}
		results = append(results, storage.SearchResult{Memory: m, Relevance: rel})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: vector search rows: %w", err)
	}

	return paginate(results, opts), nil
}

func (s *Store) searchInProcess(ctx context.Context, scope types.Scope, queryVec []float32, opts storage.SearchOptions) ([]storage.SearchResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE tenant_id = $1 AND workspace_id = $2 AND status != 'deleted' AND embedding IS NOT NULL
		ORDER BY created_at DESC`, scope.TenantID, scope.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("postgres: search memories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []storage.SearchResult
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, err
		}
		if !storage.MatchesOptions(m, opts) {
			continue
		}
		rel := storage.Cosine(queryVec, m.Embedding)
		if rel < opts.MinRelevance {
			continue
		}
		results = append(results, storage.SearchResult{Memory: m, Relevance: rel})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: search memories rows: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Relevance > results[j].Relevance
	})
	return paginate(results, opts), nil
}

func paginate(results []storage.SearchResult, opts storage.SearchOptions) []storage.SearchResult {
	if opts.Offset >= len(results) {
		return nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results
}

func (s *Store) FullTextSearch(ctx context.Context, scope types.Scope, query string, limit, offset int) ([]*types.Memory, error) {
	if limit < 1 {
		limit = 10
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE tenant_id = $1 AND workspace_id = $2 AND status != 'deleted'
		AND to_tsvector('english', content) @@ plainto_tsquery('english', $3)
		ORDER BY ts_rank(to_tsvector('english', content), plainto_tsquery('english', $3)) DESC
		LIMIT $4 OFFSET $5`, scope.TenantID, scope.WorkspaceID, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: full text search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectMemories(rows)
}

func (s *Store) GetRecentMemories(ctx context.Context, scope types.Scope, opts storage.RecentOptions) ([]*types.Memory, error) {
	if opts.Limit < 1 {
		opts.Limit = 10
	}

	query := `SELECT ` + memoryColumns + ` FROM memories
		WHERE tenant_id = $1 AND workspace_id = $2 AND status != 'deleted'`
	args := []interface{}{scope.TenantID, scope.WorkspaceID}
	if !opts.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at > $%d`, len(args)+1)
		args = append(args, opts.CreatedAfter)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent memories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Memory
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, storage.ProjectDetailLevel(m, opts.DetailLevel))
	}
	return out, rows.Err()
}

func (s *Store) GetMemoriesForDecay(ctx context.Context, q storage.DecayQuery) ([]*types.Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories
		WHERE tenant_id = $1 AND workspace_id = $2 AND status = 'active'
		AND created_at <= $3 - make_interval(hours => $4)`
	args := []interface{}{q.Scope.TenantID, q.Scope.WorkspaceID, s.now(), int(q.MinAgeDays * 24)}
	if q.ExcludePinned {
		query += ` AND pinned = FALSE`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: memories for decay: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectMemories(rows)
}

func (s *Store) GetArchivalCandidates(ctx context.Context, q storage.ArchivalQuery) ([]*types.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE tenant_id = $1 AND workspace_id = $2 AND status = 'active' AND pinned = FALSE
		AND importance <= $3 AND access_count <= $4
		AND created_at <= $5 - make_interval(hours => $6)`,
		q.Scope.TenantID, q.Scope.WorkspaceID, q.MaxImportance, q.MaxAccessCount, s.now(), int(q.MinAgeDays*24))
	if err != nil {
		return nil, fmt.Errorf("postgres: archival candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectMemories(rows)
}

func (s *Store) GetWorkspaceStats(ctx context.Context, scope types.Scope) (*types.WorkspaceStats, error) {
	stats := &types.WorkspaceStats{WorkspaceID: scope.WorkspaceID}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'archived' THEN 1 ELSE 0 END), 0)
		FROM memories WHERE tenant_id = $1 AND workspace_id = $2 AND status != 'deleted'`,
		scope.TenantID, scope.WorkspaceID).
		Scan(&stats.MemoryCount, &stats.ArchivedCount)
	if err != nil {
		return nil, fmt.Errorf("postgres: workspace stats memories: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM associations WHERE tenant_id = $1 AND workspace_id = $2`,
		scope.TenantID, scope.WorkspaceID).
		Scan(&stats.AssociationCount); err != nil {
		return nil, fmt.Errorf("postgres: workspace stats associations: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE tenant_id = $1 AND workspace_id = $2`,
		scope.TenantID, scope.WorkspaceID).
		Scan(&stats.SessionCount); err != nil {
		return nil, fmt.Errorf("postgres: workspace stats sessions: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contradictions WHERE tenant_id = $1 AND workspace_id = $2 AND resolved_at IS NULL`,
		scope.TenantID, scope.WorkspaceID).
		Scan(&stats.ContradictionCount); err != nil {
		return nil, fmt.Errorf("postgres: workspace stats contradictions: %w", err)
	}

	return stats, nil
}

// --- scanning helpers ---

func marshalMemoryJSON(m *types.Memory) (interface{}, interface{}, error) {
	var tagsJSON, metadataJSON interface{}
	if len(m.Tags) > 0 {
		b, err := json.Marshal(m.Tags)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: marshal tags: %w", err)
		}
		tagsJSON = b
	}
	if len(m.Metadata) > 0 {
		b, err := json.Marshal(m.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: marshal metadata: %w", err)
		}
		metadataJSON = b
	}
	return tagsJSON, metadataJSON, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func memoryScanTargets(m *types.Memory, aux *memoryScanAux) []interface{} {
	return []interface{}{
		&m.ID, &m.TenantID, &m.WorkspaceID, &m.ContextID, &m.Content, &m.ContentHash,
		&aux.memType, &aux.subtype, &aux.category, &aux.tagsJSON, &aux.metadataJSON,
		&m.Importance, &m.DecayFactor, &m.AccessCount, &aux.lastAccessedAt,
		&aux.abstract, &aux.overview, &aux.status, &m.Pinned, &aux.sourceMemoryID, &aux.embedding,
		&m.CreatedAt, &m.UpdatedAt, &aux.deletedAt,
	}
}

type memoryScanAux struct {
	memType, status                                      string
	subtype, category, abstract, overview, sourceMemoryID sql.NullString
	tagsJSON, metadataJSON, embedding                    []byte
	lastAccessedAt, deletedAt                            sql.NullTime
}

func (aux *memoryScanAux) apply(m *types.Memory) error {
	m.Type = types.MemoryType(aux.memType)
	m.Status = types.MemoryStatus(aux.status)
	if aux.subtype.Valid {
		m.Subtype = types.MemorySubtype(aux.subtype.String)
	}
	if aux.category.Valid {
		m.Category = aux.category.String
	}
	if aux.abstract.Valid {
		m.Abstract = aux.abstract.String
	}
	if aux.overview.Valid {
		m.Overview = aux.overview.String
	}
	if aux.sourceMemoryID.Valid {
		m.SourceMemoryID = aux.sourceMemoryID.String
	}
	if aux.lastAccessedAt.Valid {
		t := aux.lastAccessedAt.Time
		m.LastAccessedAt = &t
	}
	if aux.deletedAt.Valid {
		t := aux.deletedAt.Time
		m.DeletedAt = &t
	}
	if len(aux.tagsJSON) > 0 {
		if err := json.Unmarshal(aux.tagsJSON, &m.Tags); err != nil {
			return fmt.Errorf("postgres: unmarshal tags: %w", err)
		}
	}
	if len(aux.metadataJSON) > 0 {
		if err := json.Unmarshal(aux.metadataJSON, &m.Metadata); err != nil {
			return fmt.Errorf("postgres: unmarshal metadata: %w", err)
		}
	}
	if len(aux.embedding) > 0 {
		vec, err := storage.DeserializeVector(aux.embedding)
		if err != nil {
			return fmt.Errorf("postgres: memory %s: %w", m.ID, err)
		}
		m.Embedding = vec
	}
	return nil
}

func scanMemory(row rowScanner) (*types.Memory, error) {
	var m types.Memory
	var aux memoryScanAux
	if err := row.Scan(memoryScanTargets(&m, &aux)...); err != nil {
		return nil, err
	}
	if err := aux.apply(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanMemoryNotFound(row rowScanner, id string) (*types.Memory, error) {
	m, err := scanMemory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: memory %s", storage.ErrNotFound, id)
		}
		return nil, err
	}
	return m, nil
}

func scanMemoryWithRelevance(rows *sql.Rows) (*types.Memory, float64, error) {
	var m types.Memory
	var aux memoryScanAux
	var relevance float64

	targets := append(memoryScanTargets(&m, &aux), &relevance)
	if err := rows.Scan(targets...); err != nil {
		return nil, 0, fmt.Errorf("postgres: scan memory row: %w", err)
	}
	if err := aux.apply(&m); err != nil {
		return nil, 0, err
	}
	return &m, relevance, nil
}

func scanMemoryRows(rows *sql.Rows) (*types.Memory, error) {
	m, err := scanMemory(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan memory row: %w", err)
	}
	return m, nil
}

func collectMemories(rows *sql.Rows) ([]*types.Memory, error) {
	var out []*types.Memory
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
