package store

import (
	"context"
	"database/sql"

	"github.com/t-koma/knowledge/pkg/komaerr"
)

// ReplaceLinks deletes a note's outgoing links and inserts the given set,
// resolving each target_title to a note id by case-insensitive match
// against notes visible in any scope (resolution itself is scope-agnostic;
// the access policy is applied when links are read back).
// Unresolved links are stored with target_id NULL and re-resolved whenever
// a note is ingested (ApplyNoteIngest).
func (s *Store) ReplaceLinks(ctx context.Context, sourceID string, links []Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return komaerr.Wrap(komaerr.KindSQL, "begin replace links", err)
	}
	defer tx.Rollback()

	if err := replaceLinks(ctx, tx, sourceID, links); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return komaerr.Wrap(komaerr.KindSQL, "commit replace links", err)
	}
	return nil
}

func replaceLinks(ctx context.Context, q dbtx, sourceID string, links []Link) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM links WHERE source_id = ?`, sourceID); err != nil {
		return komaerr.Wrap(komaerr.KindSQL, "delete old links", err)
	}

	stmt, err := q.PrepareContext(ctx, `INSERT INTO links (source_id, target_title, target_id, alias) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return komaerr.Wrap(komaerr.KindSQL, "prepare insert link", err)
	}
	defer stmt.Close()

	resolve, err := q.PrepareContext(ctx, `SELECT id FROM notes WHERE title = ? COLLATE NOCASE LIMIT 1`)
	if err != nil {
		return komaerr.Wrap(komaerr.KindSQL, "prepare resolve link", err)
	}
	defer resolve.Close()

	for _, l := range links {
		var targetID any
		var resolved string
		if err := resolve.QueryRowContext(ctx, l.TargetTitle).Scan(&resolved); err == nil {
			targetID = resolved
		}
		if _, err := stmt.ExecContext(ctx, sourceID, l.TargetTitle, targetID, nullableStr(l.Alias)); err != nil {
			return komaerr.Wrap(komaerr.KindSQL, "insert link", err)
		}
	}
	return nil
}

// ReresolvePendingLinks retries resolution of every link with target_id
// NULL whose title now matches a note; called after any note is ingested,
// since a newly-created note may satisfy previously-pending incoming links.
func (s *Store) ReresolvePendingLinks(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return reresolvePendingLinks(ctx, s.db)
}

func reresolvePendingLinks(ctx context.Context, q dbtx) error {
	_, err := q.ExecContext(ctx, `
		UPDATE links
		SET target_id = (SELECT id FROM notes WHERE notes.title = links.target_title COLLATE NOCASE LIMIT 1)
		WHERE target_id IS NULL
	`)
	if err != nil {
		return komaerr.Wrap(komaerr.KindSQL, "reresolve pending links", err)
	}
	return nil
}

// LinksOut returns a source note's outgoing links whose target is readable
// under scopeFilter. Unresolved links, and links to unreadable targets, are
// omitted.
func (s *Store) LinksOut(ctx context.Context, sourceID string, limit int, scopeFilter ScopeFilter) ([]Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT l.source_id, l.target_title, l.target_id, l.alias
		FROM links l
		JOIN notes n ON n.id = l.target_id
		WHERE l.source_id = ? AND (` + scopeFilter.SQL + `)
		ORDER BY n.id ASC
		LIMIT ?
	`
	args := append([]any{sourceID}, scopeFilter.Args...)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, komaerr.Wrap(komaerr.KindSQL, "load links out", err)
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		var targetID, alias sql.NullString
		if err := rows.Scan(&l.SourceID, &l.TargetTitle, &targetID, &alias); err != nil {
			return nil, komaerr.Wrap(komaerr.KindSQL, "scan link", err)
		}
		l.TargetID = targetID.String
		l.Alias = alias.String
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, komaerr.Wrap(komaerr.KindSQL, "iterate links", err)
	}
	return links, nil
}

// LinksIn returns the links pointing at targetID whose source note is
// readable under scopeFilter, ordered by source note id; links from
// sources outside the filter are omitted.
func (s *Store) LinksIn(ctx context.Context, targetID string, scopeFilter ScopeFilter) ([]Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT l.source_id, l.target_title, l.target_id, l.alias
		FROM links l
		JOIN notes n ON n.id = l.source_id
		WHERE l.target_id = ? AND (` + scopeFilter.SQL + `)
		ORDER BY n.id ASC
	`
	args := append([]any{targetID}, scopeFilter.Args...)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, komaerr.Wrap(komaerr.KindSQL, "load links in", err)
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		var targetIDCol, alias sql.NullString
		if err := rows.Scan(&l.SourceID, &l.TargetTitle, &targetIDCol, &alias); err != nil {
			return nil, komaerr.Wrap(komaerr.KindSQL, "scan link", err)
		}
		l.TargetID = targetIDCol.String
		l.Alias = alias.String
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, komaerr.Wrap(komaerr.KindSQL, "iterate links", err)
	}
	return links, nil
}
