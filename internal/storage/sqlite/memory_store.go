package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
		return fmt.Errorf("sqlite: create memory: %w", err)
	}
	return nil
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
			content = ?, content_hash = ?, type = ?, subtype = ?, category = ?,
			tags = ?, metadata = ?, importance = ?, decay_factor = ?,
			access_count = ?, last_accessed_at = ?,
			abstract = ?, overview = ?, status = ?, pinned = ?, source_memory_id = ?,
			embedding = ?, updated_at = ?, deleted_at = ?
		WHERE id = ?`,
		m.Content, m.ContentHash, string(m.Type), nullString(string(m.Subtype)), nullString(m.Category),
		tagsJSON, metadataJSON, m.Importance, m.DecayFactor,
		m.AccessCount, nullTime(m.LastAccessedAt),
		nullString(m.Abstract), nullString(m.Overview), string(m.Status), m.Pinned, nullString(m.SourceMemoryID),
		storage.SerializeVector(m.Embedding), m.UpdatedAt, nullTime(m.DeletedAt),
		m.ID)
	if err != nil {
		return fmt.Errorf("sqlite: update memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: memory %s", storage.ErrNotFound, m.ID)
	}
	return nil
}

func (s *Store) GetMemory(ctx context.Context, scope types.Scope, id string, trackAccess bool) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE id = ? AND tenant_id = ? AND workspace_id = ? AND status != 'deleted'`,
		id, scope.TenantID, scope.WorkspaceID)
	m, err := scanMemory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: memory %s", storage.ErrNotFound, id)
		}
		return nil, err
	}
	if trackAccess {
		if err := s.IncrementAccess(ctx, id); err != nil {
			return nil, err
		}
		m.AccessCount++
		t := s.now()
		m.LastAccessedAt = &t
	}
	return m, nil
}

func (s *Store) GetMemoryByID(ctx context.Context, id string, trackAccess bool) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE id = ? AND status != 'deleted'`, id)
	m, err := scanMemory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: memory %s", storage.ErrNotFound, id)
		}
		return nil, err
	}
	if trackAccess {
		if err := s.IncrementAccess(ctx, id); err != nil {
			return nil, err
		}
		m.AccessCount++
		t := s.now()
		m.LastAccessedAt = &t
	}
	return m, nil
}

func (s *Store) GetMemoryByHash(ctx context.Context, scope types.Scope, hash string) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE tenant_id = ? AND workspace_id = ? AND content_hash = ? AND status != 'deleted'
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
		// The FTS delete trigger removes the full-text entry with the row.
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM memories WHERE id = ? AND tenant_id = ? AND workspace_id = ?`,
			id, scope.TenantID, scope.WorkspaceID)
		if err != nil {
			return false, fmt.Errorf("sqlite: hard delete memory: %w", err)
		}
		n, _ := res.RowsAffected()
		return n > 0, nil
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET status = 'deleted', deleted_at = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ? AND workspace_id = ? AND status != 'deleted'`,
		now, now, id, scope.TenantID, scope.WorkspaceID)
	if err != nil {
		return false, fmt.Errorf("sqlite: soft delete memory: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) IncrementAccess(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ? AND status != 'deleted'`, s.now(), id)
	if err != nil {
		return fmt.Errorf("sqlite: increment access: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: memory %s", storage.ErrNotFound, id)
	}
	return nil
}

// searchMaxCandidates caps the number of embeddings loaded during a vector
// search. Candidates are selected newest first, so recently created memories
// are always considered.
const searchMaxCandidates = 10_000

func (s *Store) SearchMemories(ctx context.Context, scope types.Scope, queryVec []float32, opts storage.SearchOptions) ([]storage.SearchResult, error) {
	opts.Normalize()
	if len(queryVec) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE tenant_id = ? AND workspace_id = ? AND status != 'deleted' AND embedding IS NOT NULL
		ORDER BY created_at DESC
		LIMIT ?`, scope.TenantID, scope.WorkspaceID, searchMaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search memories: %w", err)
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
		return nil, fmt.Errorf("sqlite: search memories rows: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Relevance > results[j].Relevance
	})

	if opts.Offset >= len(results) {
		return nil, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (s *Store) FullTextSearch(ctx context.Context, scope types.Scope, query string, limit, offset int) ([]*types.Memory, error) {
	if limit < 1 {
		limit = 10
	}

	ftsQuery := sanitiseFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	// FTS5 rank values are negative (more negative == better match), so
	// ordering by rank ASC gives the best results first.
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixedMemoryColumns("m")+`
		FROM memories_fts fts
		JOIN memories m ON m.rowid = fts.rowid
		WHERE memories_fts MATCH ? AND m.tenant_id = ? AND m.workspace_id = ? AND m.status != 'deleted'
		ORDER BY rank
		LIMIT ? OFFSET ?`, ftsQuery, scope.TenantID, scope.WorkspaceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: full text search MATCH %q: %w", query, err)
	}
	defer func() { _ = rows.Close() }()

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

func (s *Store) GetRecentMemories(ctx context.Context, scope types.Scope, opts storage.RecentOptions) ([]*types.Memory, error) {
	if opts.Limit < 1 {
		opts.Limit = 10
	}

	query := `SELECT ` + memoryColumns + ` FROM memories
		WHERE tenant_id = ? AND workspace_id = ? AND status != 'deleted'`
	args := []interface{}{scope.TenantID, scope.WorkspaceID}
	if !opts.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, opts.CreatedAfter)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recent memories: %w", err)
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
		WHERE tenant_id = ? AND workspace_id = ? AND status = 'active'
		AND created_at <= datetime(?, '-' || CAST(? AS TEXT) || ' hours')`
	args := []interface{}{q.Scope.TenantID, q.Scope.WorkspaceID, s.now(), int(q.MinAgeDays * 24)}
	if q.ExcludePinned {
		query += ` AND pinned = 0`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: memories for decay: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectMemories(rows)
}

func (s *Store) GetArchivalCandidates(ctx context.Context, q storage.ArchivalQuery) ([]*types.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE tenant_id = ? AND workspace_id = ? AND status = 'active' AND pinned = 0
		AND importance <= ? AND access_count <= ?
		AND created_at <= datetime(?, '-' || CAST(? AS TEXT) || ' hours')`,
		q.Scope.TenantID, q.Scope.WorkspaceID, q.MaxImportance, q.MaxAccessCount, s.now(), int(q.MinAgeDays*24))
	if err != nil {
		return nil, fmt.Errorf("sqlite: archival candidates: %w", err)
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
		FROM memories WHERE tenant_id = ? AND workspace_id = ? AND status != 'deleted'`,
		scope.TenantID, scope.WorkspaceID).
		Scan(&stats.MemoryCount, &stats.ArchivedCount)
	if err != nil {
		return nil, fmt.Errorf("sqlite: workspace stats memories: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM associations WHERE tenant_id = ? AND workspace_id = ?`,
		scope.TenantID, scope.WorkspaceID).
		Scan(&stats.AssociationCount); err != nil {
		return nil, fmt.Errorf("sqlite: workspace stats associations: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE tenant_id = ? AND workspace_id = ?`,
		scope.TenantID, scope.WorkspaceID).
		Scan(&stats.SessionCount); err != nil {
		return nil, fmt.Errorf("sqlite: workspace stats sessions: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contradictions WHERE tenant_id = ? AND workspace_id = ? AND resolved_at IS NULL`,
		scope.TenantID, scope.WorkspaceID).
		Scan(&stats.ContradictionCount); err != nil {
		return nil, fmt.Errorf("sqlite: workspace stats contradictions: %w", err)
	}

	return stats, nil
}

// --- scanning helpers ---

func marshalMemoryJSON(m *types.Memory) (interface{}, interface{}, error) {
	var tagsJSON, metadataJSON interface{}
	if len(m.Tags) > 0 {
		b, err := json.Marshal(m.Tags)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: marshal tags: %w", err)
		}
		tagsJSON = string(b)
	}
	if len(m.Metadata) > 0 {
		b, err := json.Marshal(m.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: marshal metadata: %w", err)
		}
		metadataJSON = string(b)
	}
	return tagsJSON, metadataJSON, nil
}

func prefixedMemoryColumns(alias string) string {
	cols := strings.Split(memoryColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner) (*types.Memory, error) {
	var m types.Memory
	var subtype, category, tagsJSON, metadataJSON, abstract, overview, sourceMemoryID sql.NullString
	var lastAccessedAt, deletedAt sql.NullTime
	var embedding []byte
	var status, memType string

	err := row.Scan(
		&m.ID, &m.TenantID, &m.WorkspaceID, &m.ContextID, &m.Content, &m.ContentHash,
		&memType, &subtype, &category, &tagsJSON, &metadataJSON,
		&m.Importance, &m.DecayFactor, &m.AccessCount, &lastAccessedAt,
		&abstract, &overview, &status, &m.Pinned, &sourceMemoryID, &embedding,
		&m.CreatedAt, &m.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	m.Type = types.MemoryType(memType)
	m.Status = types.MemoryStatus(status)
	if subtype.Valid {
		m.Subtype = types.MemorySubtype(subtype.String)
	}
	if category.Valid {
		m.Category = category.String
	}
	if abstract.Valid {
		m.Abstract = abstract.String
	}
	if overview.Valid {
		m.Overview = overview.String
	}
	if sourceMemoryID.Valid {
		m.SourceMemoryID = sourceMemoryID.String
	}
	if lastAccessedAt.Valid {
		t := lastAccessedAt.Time
		m.LastAccessedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		m.DeletedAt = &t
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &m.Tags); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal tags: %w", err)
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal metadata: %w", err)
		}
	}
	if len(embedding) > 0 {
		vec, err := storage.DeserializeVector(embedding)
		if err != nil {
			return nil, fmt.Errorf("sqlite: memory %s: %w", m.ID, err)
		}
		m.Embedding = vec
	}
	return &m, nil
}

func scanMemoryRows(rows *sql.Rows) (*types.Memory, error) {
	m, err := scanMemory(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan memory row: %w", err)
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

// sanitiseFTSQuery converts a free-form query into a safe FTS5 MATCH
// expression: special characters stripped, stop words removed, remaining
// terms OR'd with prefix matching for recall.
func sanitiseFTSQuery(query string) string {
	replacer := strings.NewReplacer(
		`"`, ` `, `'`, ` `, `(`, ` `, `)`, ` `,
		`*`, ` `, `-`, ` `, `^`, ` `, `?`, ` `, `:`, ` `,
	)
	cleaned := replacer.Replace(query)

	words := strings.Fields(strings.ToLower(cleaned))

	var terms []string
	for _, w := range words {
		if !ftsStopWords[w] && len(w) >= 2 {
			terms = append(terms, w+"*")
		}
	}
	if len(terms) == 0 {
		return strings.ToLower(strings.TrimSpace(cleaned))
	}
	return strings.Join(terms, " OR ")
}

var ftsStopWords = map[string]bool{
	"a": true, "an": true, "the": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true,
	"to": true, "of": true, "in": true, "on": true, "at": true,
	"by": true, "for": true, "with": true, "from": true, "as": true,
	"what": true, "how": true, "when": true, "where": true, "why": true,
	"this": true, "that": true, "these": true, "those": true,
	"and": true, "or": true, "but": true, "if": true, "not": true,
}
