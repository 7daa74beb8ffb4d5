package postgres

// Schema is the base PostgreSQL DDL. Idempotent (IF NOT EXISTS throughout).
// Embeddings are stored twice: a BYTEA column holding the packed little-endian
// float32 form for portability, and a pgvector column added by
// MigrationPgvector when the extension is available.
const Schema = `
CREATE TABLE IF NOT EXISTS workspaces (
	id         TEXT NOT NULL,
	tenant_id  TEXT NOT NULL,
	name       TEXT NOT NULL,
	settings   JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, id)
);

CREATE TABLE IF NOT EXISTS contexts (
	id           TEXT NOT NULL,
	tenant_id    TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	name         TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, workspace_id, id),
	UNIQUE (tenant_id, workspace_id, name)
);

CREATE TABLE IF NOT EXISTS memories (
	id               TEXT PRIMARY KEY,
	tenant_id        TEXT NOT NULL,
	workspace_id     TEXT NOT NULL,
	context_id       TEXT NOT NULL DEFAULT '_default',
	content          TEXT NOT NULL,
	content_hash     TEXT NOT NULL,
	type             TEXT NOT NULL,
	subtype          TEXT,
	category         TEXT,
	tags             JSONB,
	metadata         JSONB,
	importance       REAL NOT NULL DEFAULT 0.5,
	decay_factor     REAL NOT NULL DEFAULT 1.0,
	access_count     INTEGER NOT NULL DEFAULT 0,
	last_accessed_at TIMESTAMPTZ,
	abstract         TEXT,
	overview         TEXT,
	status           TEXT NOT NULL DEFAULT 'active',
	pinned           BOOLEAN NOT NULL DEFAULT FALSE,
	source_memory_id TEXT,
	embedding        BYTEA,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	deleted_at       TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_memories_scope ON memories(tenant_id, workspace_id, status);
CREATE INDEX IF NOT EXISTS idx_memories_hash ON memories(tenant_id, workspace_id, content_hash);
CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(tenant_id, workspace_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_memories_source ON memories(source_memory_id);
CREATE INDEX IF NOT EXISTS idx_memories_fts ON memories
	USING GIN (to_tsvector('english', content));

CREATE TABLE IF NOT EXISTS associations (
	id           TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	source_id    TEXT NOT NULL,
	target_id    TEXT NOT NULL,
	relationship TEXT NOT NULL,
	strength     REAL NOT NULL DEFAULT 0.5,
	metadata     JSONB,
	created_at   TIMESTAMPTZ NOT NULL,
	UNIQUE (source_id, target_id, relationship)
);

CREATE INDEX IF NOT EXISTS idx_assoc_source ON associations(tenant_id, workspace_id, source_id);
CREATE INDEX IF NOT EXISTS idx_assoc_target ON associations(tenant_id, workspace_id, target_id);

CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	context_id   TEXT NOT NULL DEFAULT '_default',
	tenant_id    TEXT NOT NULL,
	ttl_seconds  INTEGER NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL,
	auto_commit  BOOLEAN NOT NULL DEFAULT TRUE,
	committed_at TIMESTAMPTZ,
	metadata     JSONB,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_scope ON sessions(tenant_id, workspace_id);
CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON sessions(expires_at);

CREATE TABLE IF NOT EXISTS working_memory (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	key        TEXT NOT NULL,
	value      JSONB,
	expires_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, key)
);

CREATE TABLE IF NOT EXISTS contradictions (
	id                 TEXT PRIMARY KEY,
	tenant_id          TEXT NOT NULL,
	workspace_id       TEXT NOT NULL,
	memory_a_id        TEXT NOT NULL,
	memory_b_id        TEXT NOT NULL,
	contradiction_type TEXT NOT NULL,
	confidence         REAL NOT NULL,
	detection_method   TEXT NOT NULL,
	detected_at        TIMESTAMPTZ NOT NULL,
	resolved_at        TIMESTAMPTZ,
	resolution         TEXT,
	merged_content     TEXT
);

CREATE INDEX IF NOT EXISTS idx_contradictions_open
	ON contradictions(tenant_id, workspace_id, detected_at DESC) WHERE resolved_at IS NULL;
`

// MigrationPgvector adds the native vector column and its cosine index. Only
// applied when the pgvector extension is installed. The ivfflat index needs at
// least one row to build its lists from, so creation is guarded.
const MigrationPgvector = `
DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM information_schema.columns
		WHERE table_name = 'memories' AND column_name = 'embedding_vec'
	) THEN
		ALTER TABLE memories ADD COLUMN embedding_vec vector;
	END IF;
END
$$;

DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_indexes WHERE indexname = 'idx_memories_vec_cosine'
	) THEN
		IF EXISTS (SELECT 1 FROM memories WHERE embedding_vec IS NOT NULL LIMIT 1) THEN
			EXECUTE 'CREATE INDEX idx_memories_vec_cosine ON memories USING ivfflat (embedding_vec vector_cosine_ops) WITH (lists = 100)';
		END IF;
	END IF;
END
$$;
`
