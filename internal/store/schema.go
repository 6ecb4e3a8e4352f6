package store

// migrations is the forward-only migration sequence applied at open. The
// index's current migration number is tracked in PRAGMA user_version; each
// entry runs at most once, in order, inside its own transaction. The
// note_vectors vec0 table is created separately once the embedding
// dimension is known (see createVectorTable).
var migrations = []string{
	// 1: notes, chunks, FTS index, links, topics, tags.
	`
CREATE TABLE notes (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	note_type TEXT,
	archetype TEXT,
	type_valid INTEGER NOT NULL DEFAULT 1,
	path TEXT NOT NULL,
	scope TEXT NOT NULL,
	owner_ghost TEXT,
	created_at TEXT NOT NULL,
	created_by_ghost TEXT NOT NULL,
	created_by_model TEXT NOT NULL,
	trust_score INTEGER NOT NULL DEFAULT 0,
	last_validated_at TEXT,
	last_validated_by_ghost TEXT,
	last_validated_by_model TEXT,
	version INTEGER NOT NULL DEFAULT 1,
	parent_id TEXT,
	comments_json TEXT,
	content_hash TEXT NOT NULL
);

CREATE INDEX idx_notes_scope ON notes(scope);
CREATE INDEX idx_notes_owner ON notes(owner_ghost);
CREATE INDEX idx_notes_title_ci ON notes(title COLLATE NOCASE);
CREATE INDEX idx_notes_path ON notes(path);

CREATE TABLE note_chunks (
	note_id TEXT NOT NULL,
	ordinal INTEGER NOT NULL,
	text TEXT NOT NULL,
	byte_start INTEGER NOT NULL,
	byte_end INTEGER NOT NULL,
	PRIMARY KEY (note_id, ordinal)
);

CREATE VIRTUAL TABLE note_chunks_fts USING fts5(
	note_id UNINDEXED,
	ordinal UNINDEXED,
	text,
	content='note_chunks',
	content_rowid='rowid'
);

CREATE TRIGGER note_chunks_ai AFTER INSERT ON note_chunks BEGIN
	INSERT INTO note_chunks_fts(rowid, note_id, ordinal, text)
	VALUES (new.rowid, new.note_id, new.ordinal, new.text);
END;

CREATE TRIGGER note_chunks_ad AFTER DELETE ON note_chunks BEGIN
	INSERT INTO note_chunks_fts(note_chunks_fts, rowid, note_id, ordinal, text)
	VALUES ('delete', old.rowid, old.note_id, old.ordinal, old.text);
END;

CREATE TRIGGER note_chunks_au AFTER UPDATE ON note_chunks BEGIN
	INSERT INTO note_chunks_fts(note_chunks_fts, rowid, note_id, ordinal, text)
	VALUES ('delete', old.rowid, old.note_id, old.ordinal, old.text);
	INSERT INTO note_chunks_fts(rowid, note_id, ordinal, text)
	VALUES (new.rowid, new.note_id, new.ordinal, new.text);
END;

CREATE TABLE links (
	source_id TEXT NOT NULL,
	target_title TEXT NOT NULL,
	target_id TEXT,
	alias TEXT
);

CREATE INDEX idx_links_source ON links(source_id);
CREATE INDEX idx_links_target_title ON links(target_title COLLATE NOCASE);
CREATE INDEX idx_links_target_id ON links(target_id);

CREATE TABLE topics (
	id TEXT PRIMARY KEY REFERENCES notes(id) ON DELETE CASCADE,
	topic_slug TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL DEFAULT 'active',
	max_age_days INTEGER,
	last_fetched_at TEXT
);

CREATE TABLE tags (
	note_id TEXT NOT NULL,
	tag TEXT NOT NULL,
	UNIQUE(note_id, tag)
);

CREATE INDEX idx_tags_tag ON tags(tag);
`,
}
