package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/t-koma/knowledge/pkg/komaerr"
	"github.com/t-koma/knowledge/pkg/parser"
)

func decodeComments(raw string) ([]parser.CommentEntry, error) {
	if raw == "" {
		return nil, nil
	}
	var comments []parser.CommentEntry
	if err := json.Unmarshal([]byte(raw), &comments); err != nil {
		return nil, komaerr.Wrap(komaerr.KindIO, "decode comments", err)
	}
	return comments, nil
}

func encodeComments(comments []parser.CommentEntry) (string, error) {
	if len(comments) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(comments)
	if err != nil {
		return "", komaerr.Wrap(komaerr.KindIO, "encode comments", err)
	}
	return string(raw), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// dbtx is the subset of *sql.DB and *sql.Tx the write helpers run against,
// letting the same statement code serve both a standalone call and the
// single-transaction ingest commit.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// UpsertNote inserts or replaces a note row. Callers hold the per-note file
// lock (pkg/ingest) so concurrent upserts of the same note never interleave.
func (s *Store) UpsertNote(ctx context.Context, n Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertNote(ctx, s.db, n)
}

func upsertNote(ctx context.Context, q dbtx, n Note) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO notes (
			id, title, note_type, archetype, type_valid, path, scope, owner_ghost,
			created_at, created_by_ghost, created_by_model, trust_score,
			last_validated_at, last_validated_by_ghost, last_validated_by_model,
			version, parent_id, comments_json, content_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, note_type=excluded.note_type, archetype=excluded.archetype,
			type_valid=excluded.type_valid, path=excluded.path, scope=excluded.scope,
			owner_ghost=excluded.owner_ghost, created_at=excluded.created_at,
			created_by_ghost=excluded.created_by_ghost, created_by_model=excluded.created_by_model,
			trust_score=excluded.trust_score, last_validated_at=excluded.last_validated_at,
			last_validated_by_ghost=excluded.last_validated_by_ghost,
			last_validated_by_model=excluded.last_validated_by_model,
			version=excluded.version, parent_id=excluded.parent_id,
			comments_json=excluded.comments_json, content_hash=excluded.content_hash
	`,
		n.ID, n.Title, nullableStr(n.NoteType), nullableStr(n.Archetype), boolToInt(n.TypeValid),
		n.Path, n.Scope, nullableStr(n.OwnerGhost), n.CreatedAt, n.CreatedByGhost, n.CreatedByModel,
		n.TrustScore, nullableStr(n.LastValidatedAt), nullableStr(n.LastValidatedByGhost),
		nullableStr(n.LastValidatedByModel), n.Version, nullableStr(n.ParentID),
		nullableStr(n.CommentsJSON), n.ContentHash,
	)
	if err != nil {
		return komaerr.Wrap(komaerr.KindSQL, "upsert note", err)
	}
	return nil
}

// ApplyNoteIngest commits one file's ingest atomically: the note row, its
// chunks, vectors, outgoing links, and tags are all replaced, and pending
// incoming links re-resolved, under a single transaction — so a failure
// partway through leaves the previous index state fully intact and chunks
// can never outlive their matching vector rows.
func (s *Store) ApplyNoteIngest(ctx context.Context, n Note, chunks []Chunk, vectors []Vector, links []Link, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return komaerr.Wrap(komaerr.KindSQL, "begin ingest transaction", err)
	}
	defer tx.Rollback()

	if err := upsertNote(ctx, tx, n); err != nil {
		return err
	}
	if err := replaceChunks(ctx, tx, n.ID, chunks); err != nil {
		return err
	}
	if err := s.replaceVectors(ctx, tx, n.ID, vectors); err != nil {
		return err
	}
	if err := replaceLinks(ctx, tx, n.ID, links); err != nil {
		return err
	}
	if err := replaceTags(ctx, tx, n.ID, tags); err != nil {
		return err
	}
	if err := reresolvePendingLinks(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return komaerr.Wrap(komaerr.KindSQL, "commit ingest transaction", err)
	}
	return nil
}

func nullableStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanStr(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func scanInt64(ni sql.NullInt64) int64 {
	if ni.Valid {
		return ni.Int64
	}
	return 0
}

const noteColumns = `id, title, note_type, archetype, type_valid, path, scope, owner_ghost,
	created_at, created_by_ghost, created_by_model, trust_score,
	last_validated_at, last_validated_by_ghost, last_validated_by_model,
	version, parent_id, comments_json, content_hash`

func scanNote(row interface{ Scan(...any) error }) (Note, error) {
	var n Note
	var noteType, archetype, ownerGhost, lastValidatedAt, lastValidatedByGhost, lastValidatedByModel, parentID, commentsJSON sql.NullString
	var typeValid int

	err := row.Scan(
		&n.ID, &n.Title, &noteType, &archetype, &typeValid, &n.Path, &n.Scope, &ownerGhost,
		&n.CreatedAt, &n.CreatedByGhost, &n.CreatedByModel, &n.TrustScore,
		&lastValidatedAt, &lastValidatedByGhost, &lastValidatedByModel,
		&n.Version, &parentID, &commentsJSON, &n.ContentHash,
	)
	if err != nil {
		return Note{}, err
	}

	n.NoteType = scanStr(noteType)
	n.Archetype = scanStr(archetype)
	n.TypeValid = typeValid != 0
	n.OwnerGhost = scanStr(ownerGhost)
	n.LastValidatedAt = scanStr(lastValidatedAt)
	n.LastValidatedByGhost = scanStr(lastValidatedByGhost)
	n.LastValidatedByModel = scanStr(lastValidatedByModel)
	n.ParentID = scanStr(parentID)
	n.CommentsJSON = scanStr(commentsJSON)
	return n, nil
}

// GetNoteByID fetches a note regardless of scope; callers apply the access
// policy (pkg/knowledge) before returning it to an agent.
func (s *Store) GetNoteByID(ctx context.Context, id string) (Note, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return Note{}, false, nil
	}
	if err != nil {
		return Note{}, false, komaerr.Wrap(komaerr.KindSQL, "get note by id", err)
	}
	return n, true, nil
}

// GetNoteByPath fetches the note indexed at an exact file path.
func (s *Store) GetNoteByPath(ctx context.Context, path string) (Note, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE path = ?`, path)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return Note{}, false, nil
	}
	if err != nil {
		return Note{}, false, komaerr.Wrap(komaerr.KindSQL, "get note by path", err)
	}
	return n, true, nil
}

// FindNotesByTitleCI returns every note whose title case-insensitively
// matches title, restricted to scopes readable by agent via scopeFilter.
func (s *Store) FindNotesByTitleCI(ctx context.Context, title string, scopeFilter ScopeFilter) ([]Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + noteColumns + ` FROM notes WHERE title = ? COLLATE NOCASE AND (` + scopeFilter.SQL + `)`
	args := append([]any{title}, scopeFilter.Args...)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, komaerr.Wrap(komaerr.KindSQL, "find notes by title", err)
	}
	defer rows.Close()
	return scanNotes(rows)
}

// ListNotesInScope lists every note whose path falls under any of the given
// roots, used by the reconciler's orphan-detection pass.
func (s *Store) ListNotesInScope(ctx context.Context, pathPrefixes []string) ([]Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(pathPrefixes) == 0 {
		return nil, nil
	}

	query := `SELECT ` + noteColumns + ` FROM notes WHERE `
	args := make([]any, 0, len(pathPrefixes))
	for i, p := range pathPrefixes {
		if i > 0 {
			query += " OR "
		}
		query += "path LIKE ?"
		args = append(args, p+"%")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, komaerr.Wrap(komaerr.KindSQL, "list notes in scope", err)
	}
	defer rows.Close()
	return scanNotes(rows)
}

func scanNotes(rows *sql.Rows) ([]Note, error) {
	var notes []Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, komaerr.Wrap(komaerr.KindSQL, "scan note row", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, komaerr.Wrap(komaerr.KindSQL, "iterate note rows", err)
	}
	return notes, nil
}

// DeleteNoteCascade deletes a note and every dependent row (chunks, vectors,
// outgoing links, tags) in a single transaction. Incoming links are left in
// place with target_id cleared to NULL so they become pending again.
func (s *Store) DeleteNoteCascade(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return komaerr.Wrap(komaerr.KindSQL, "begin delete transaction", err)
	}
	defer tx.Rollback()

	stmts := []struct {
		query string
		args  []any
	}{
		{`DELETE FROM note_chunks WHERE note_id = ?`, []any{id}},
		{`DELETE FROM note_vectors WHERE note_id = ?`, []any{id}},
		{`DELETE FROM links WHERE source_id = ?`, []any{id}},
		{`UPDATE links SET target_id = NULL WHERE target_id = ?`, []any{id}},
		{`DELETE FROM tags WHERE note_id = ?`, []any{id}},
		{`DELETE FROM topics WHERE id = ?`, []any{id}},
		{`DELETE FROM notes WHERE id = ?`, []any{id}},
	}
	for _, st := range stmts {
		if s.dim == 0 && strings.Contains(st.query, "note_vectors") {
			// The vec0 table only exists when a dimension is configured.
			continue
		}
		if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
			return komaerr.Wrap(komaerr.KindSQL, "delete note cascade", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return komaerr.Wrap(komaerr.KindSQL, "commit delete transaction", err)
	}
	return nil
}

// ScopeFilter is a pre-built SQL predicate plus its bind arguments, used to
// enforce the access policy at the SQL level on every read path rather
// than filtering results after the fact.
type ScopeFilter struct {
	SQL  string
	Args []any
}

// ReadableByAgent builds the access-policy predicate `readable(note, agent)`:
// shared and reference notes are always readable; private, project, and
// diary notes are readable only by their owning ghost.
func ReadableByAgent(agent string) ScopeFilter {
	return ScopeFilter{
		SQL:  `scope IN ('shared', 'reference') OR (scope IN ('ghost_private', 'ghost_projects', 'ghost_diary') AND owner_ghost = ?)`,
		Args: []any{agent},
	}
}

// SharedOnly restricts to notes visible to every agent.
func SharedOnly() ScopeFilter {
	return ScopeFilter{SQL: `scope IN ('shared', 'reference')`}
}

// PrivateOnly restricts to one agent's own private/projects/diary notes.
func PrivateOnly(agent string) ScopeFilter {
	return ScopeFilter{
		SQL:  `scope IN ('ghost_private', 'ghost_projects', 'ghost_diary') AND owner_ghost = ?`,
		Args: []any{agent},
	}
}
