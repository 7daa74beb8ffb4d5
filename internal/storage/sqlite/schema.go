package sqlite

// Schema is the complete SQLite DDL. Every statement is idempotent
// (IF NOT EXISTS) so re-applying it on open is safe.
//
// Timestamps are stored as ISO-8601 UTC text. Embeddings are packed
// little-endian float32 BLOBs. The memories_fts FTS5 virtual table is kept
// in sync with the memories table via triggers.
const Schema = `
CREATE TABLE IF NOT EXISTS workspaces (
	id         TEXT NOT NULL,
	tenant_id  TEXT NOT NULL,
	name       TEXT NOT NULL,
	settings   TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, id)
);

CREATE TABLE IF NOT EXISTS contexts (
	id           TEXT NOT NULL,
	tenant_id    TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	name         TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL,
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
	tags             TEXT,
	metadata         TEXT,
	importance       REAL NOT NULL DEFAULT 0.5,
	decay_factor     REAL NOT NULL DEFAULT 1.0,
	access_count     INTEGER NOT NULL DEFAULT 0,
	last_accessed_at TIMESTAMP,
	abstract         TEXT,
	overview         TEXT,
	status           TEXT NOT NULL DEFAULT 'active',
	pinned           INTEGER NOT NULL DEFAULT 0,
	source_memory_id TEXT,
	embedding        BLOB,
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL,
	deleted_at       TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_memories_scope ON memories(tenant_id, workspace_id, status);
CREATE INDEX IF NOT EXISTS idx_memories_hash ON memories(tenant_id, workspace_id, content_hash);
CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(tenant_id, workspace_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_memories_source ON memories(source_memory_id);

CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	content,
	content='memories',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS memories_fts_insert AFTER INSERT ON memories BEGIN
	INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_delete AFTER DELETE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_update AFTER UPDATE OF content ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
	INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TABLE IF NOT EXISTS associations (
	id           TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	source_id    TEXT NOT NULL,
	target_id    TEXT NOT NULL,
	relationship TEXT NOT NULL,
	strength     REAL NOT NULL DEFAULT 0.5,
	metadata     TEXT,
	created_at   TIMESTAMP NOT NULL,
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
	expires_at   TIMESTAMP NOT NULL,
	auto_commit  INTEGER NOT NULL DEFAULT 1,
	committed_at TIMESTAMP,
	metadata     TEXT,
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_scope ON sessions(tenant_id, workspace_id);
CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON sessions(expires_at);

CREATE TABLE IF NOT EXISTS working_memory (
	session_id TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT,
	expires_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, key),
	FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
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
	detected_at        TIMESTAMP NOT NULL,
	resolved_at        TIMESTAMP,
	resolution         TEXT,
	merged_content     TEXT
);

CREATE INDEX IF NOT EXISTS idx_contradictions_open
	ON contradictions(tenant_id, workspace_id, detected_at DESC) WHERE resolved_at IS NULL;
`
