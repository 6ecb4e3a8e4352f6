package store

import (
	"context"
	"database/sql"

	"github.com/t-koma/knowledge/pkg/komaerr"
)

// UpsertTopic inserts or replaces a topic row. The topic's note row must
// already exist (topics.id references notes.id) — pkg/ingest calls this
// after the note's ingest transaction has committed, as a separate write.
func (s *Store) UpsertTopic(ctx context.Context, t Topic) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO topics (id, topic_slug, status, max_age_days, last_fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			topic_slug=excluded.topic_slug, status=excluded.status,
			max_age_days=excluded.max_age_days, last_fetched_at=excluded.last_fetched_at
	`, t.ID, t.TopicSlug, t.Status, nullableInt(t.MaxAgeDays), nullableStr(t.LastFetchedAt))
	if err != nil {
		return komaerr.Wrap(komaerr.KindSQL, "upsert topic", err)
	}
	return nil
}

func nullableInt(i int64) any {
	if i == 0 {
		return nil
	}
	return i
}

// GetTopicBySlug finds a topic by its exact slug.
func (s *Store) GetTopicBySlug(ctx context.Context, slug string) (Topic, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t Topic
	var maxAge sql.NullInt64
	var lastFetched sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT id, topic_slug, status, max_age_days, last_fetched_at FROM topics WHERE topic_slug = ?`, slug).
		Scan(&t.ID, &t.TopicSlug, &t.Status, &maxAge, &lastFetched)
	if err == sql.ErrNoRows {
		return Topic{}, false, nil
	}
	if err != nil {
		return Topic{}, false, komaerr.Wrap(komaerr.KindSQL, "get topic by slug", err)
	}
	t.MaxAgeDays = scanInt64(maxAge)
	t.LastFetchedAt = scanStr(lastFetched)
	return t, true, nil
}

// ListTopics enumerates every topic, optionally including obsolete ones.
func (s *Store) ListTopics(ctx context.Context, includeObsolete bool) ([]Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, topic_slug, status, max_age_days, last_fetched_at FROM topics`
	if !includeObsolete {
		query += ` WHERE status != 'obsolete'`
	}
	query += ` ORDER BY topic_slug ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, komaerr.Wrap(komaerr.KindSQL, "list topics", err)
	}
	defer rows.Close()

	var topics []Topic
	for rows.Next() {
		var t Topic
		var maxAge sql.NullInt64
		var lastFetched sql.NullString
		if err := rows.Scan(&t.ID, &t.TopicSlug, &t.Status, &maxAge, &lastFetched); err != nil {
			return nil, komaerr.Wrap(komaerr.KindSQL, "scan topic", err)
		}
		t.MaxAgeDays = scanInt64(maxAge)
		t.LastFetchedAt = scanStr(lastFetched)
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, komaerr.Wrap(komaerr.KindSQL, "iterate topics", err)
	}
	return topics, nil
}

// ListTopicTitles returns (id, slug, title) for fuzzy topic matching in
// reference_save.
type TopicTitle struct {
	ID    string
	Slug  string
	Title string
}

func (s *Store) ListTopicTitles(ctx context.Context) ([]TopicTitle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.topic_slug, n.title FROM topics t JOIN notes n ON n.id = t.id
	`)
	if err != nil {
		return nil, komaerr.Wrap(komaerr.KindSQL, "list topic titles", err)
	}
	defer rows.Close()

	var out []TopicTitle
	for rows.Next() {
		var tt TopicTitle
		if err := rows.Scan(&tt.ID, &tt.Slug, &tt.Title); err != nil {
			return nil, komaerr.Wrap(komaerr.KindSQL, "scan topic title", err)
		}
		out = append(out, tt)
	}
	if err := rows.Err(); err != nil {
		return nil, komaerr.Wrap(komaerr.KindSQL, "iterate topic titles", err)
	}
	return out, nil
}

// ReplaceTags deletes a note's tags and inserts the given set.
func (s *Store) ReplaceTags(ctx context.Context, noteID string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return komaerr.Wrap(komaerr.KindSQL, "begin replace tags", err)
	}
	defer tx.Rollback()

	if err := replaceTags(ctx, tx, noteID, tags); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return komaerr.Wrap(komaerr.KindSQL, "commit replace tags", err)
	}
	return nil
}

func replaceTags(ctx context.Context, q dbtx, noteID string, tags []string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM tags WHERE note_id = ?`, noteID); err != nil {
		return komaerr.Wrap(komaerr.KindSQL, "delete old tags", err)
	}

	stmt, err := q.PrepareContext(ctx, `INSERT OR IGNORE INTO tags (note_id, tag) VALUES (?, ?)`)
	if err != nil {
		return komaerr.Wrap(komaerr.KindSQL, "prepare insert tag", err)
	}
	defer stmt.Close()

	for _, tag := range tags {
		if _, err := stmt.ExecContext(ctx, noteID, tag); err != nil {
			return komaerr.Wrap(komaerr.KindSQL, "insert tag", err)
		}
	}
	return nil
}

// TagsFor returns the tag set for a note.
func (s *Store) TagsFor(ctx context.Context, noteID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT tag FROM tags WHERE note_id = ? ORDER BY tag ASC`, noteID)
	if err != nil {
		return nil, komaerr.Wrap(komaerr.KindSQL, "list tags", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, komaerr.Wrap(komaerr.KindSQL, "scan tag", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, komaerr.Wrap(komaerr.KindSQL, "iterate tags", err)
	}
	return tags, nil
}
