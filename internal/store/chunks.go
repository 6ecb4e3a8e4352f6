package store

import (
	"context"
	"fmt"

	ncruces "github.com/asg017/sqlite-vec-go-bindings/ncruces"

	"github.com/t-koma/knowledge/pkg/komaerr"
)

// ReplaceChunks deletes a note's existing chunks and inserts the given set
// in one transaction; the FTS triggers keep note_chunks_fts in sync.
func (s *Store) ReplaceChunks(ctx context.Context, noteID string, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return komaerr.Wrap(komaerr.KindSQL, "begin replace chunks", err)
	}
	defer tx.Rollback()

	if err := replaceChunks(ctx, tx, noteID, chunks); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return komaerr.Wrap(komaerr.KindSQL, "commit replace chunks", err)
	}
	return nil
}

func replaceChunks(ctx context.Context, q dbtx, noteID string, chunks []Chunk) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM note_chunks WHERE note_id = ?`, noteID); err != nil {
		return komaerr.Wrap(komaerr.KindSQL, "delete old chunks", err)
	}

	stmt, err := q.PrepareContext(ctx, `INSERT INTO note_chunks (note_id, ordinal, text, byte_start, byte_end) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return komaerr.Wrap(komaerr.KindSQL, "prepare insert chunk", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, noteID, c.Ordinal, c.Text, c.ByteStart, c.ByteEnd); err != nil {
			return komaerr.Wrap(komaerr.KindSQL, "insert chunk", err)
		}
	}
	return nil
}

// ReplaceVectors deletes a note's existing dense vectors and inserts the
// given set. Each vector's length must equal the store's configured
// dimension; callers (pkg/ingest) check this before calling in, via
// komaerr.EmbeddingDimMismatch.
func (s *Store) ReplaceVectors(ctx context.Context, noteID string, vectors []Vector) error {
	if s.dim == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return komaerr.Wrap(komaerr.KindSQL, "begin replace vectors", err)
	}
	defer tx.Rollback()

	if err := s.replaceVectors(ctx, tx, noteID, vectors); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return komaerr.Wrap(komaerr.KindSqliteVec, "commit replace vectors", err)
	}
	return nil
}

func (s *Store) replaceVectors(ctx context.Context, q dbtx, noteID string, vectors []Vector) error {
	if s.dim == 0 {
		return nil
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM note_vectors WHERE note_id = ?`, noteID); err != nil {
		return komaerr.Wrap(komaerr.KindSqliteVec, "delete old vectors", err)
	}

	stmt, err := q.PrepareContext(ctx, `INSERT INTO note_vectors (note_id, ordinal, embedding) VALUES (?, ?, ?)`)
	if err != nil {
		return komaerr.Wrap(komaerr.KindSqliteVec, "prepare insert vector", err)
	}
	defer stmt.Close()

	for _, v := range vectors {
		if len(v.Embedding) != s.dim {
			return komaerr.EmbeddingDimMismatch(s.dim, len(v.Embedding))
		}
		blob, err := ncruces.SerializeFloat32(v.Embedding)
		if err != nil {
			return komaerr.Wrap(komaerr.KindSqliteVec, "serialize embedding", err)
		}
		if _, err := stmt.ExecContext(ctx, noteID, v.Ordinal, blob); err != nil {
			return komaerr.Wrap(komaerr.KindSqliteVec, "insert vector", err)
		}
	}
	return nil
}

// FTSHit is one lexical search result, ranked by BM25 (lower is better, per
// SQLite FTS5 convention). pkg/search fuses hits by their rank position
// only, so the raw Rank value is not used there.
type FTSHit struct {
	NoteID    string
	Ordinal   int
	Text      string
	ByteStart int
	ByteEnd   int
	Rank      float64
}

// FTSSearch runs an FTS5 MATCH query over chunks restricted by scopeFilter,
// returning up to limit hits ordered by BM25 rank.
func (s *Store) FTSSearch(ctx context.Context, query string, limit int, scopeFilter ScopeFilter) ([]FTSHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sqlQuery := fmt.Sprintf(`
		SELECT c.note_id, c.ordinal, c.text, c.byte_start, c.byte_end, bm25(note_chunks_fts) AS rank
		FROM note_chunks_fts f
		JOIN note_chunks c ON c.rowid = f.rowid
		JOIN notes n ON n.id = c.note_id
		WHERE note_chunks_fts MATCH ? AND (%s)
		ORDER BY rank
		LIMIT ?
	`, scopeFilter.SQL)

	args := append([]any{query}, scopeFilter.Args...)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, komaerr.Wrap(komaerr.KindSQL, "fts search", err)
	}
	defer rows.Close()

	var hits []FTSHit
	for rows.Next() {
		var h FTSHit
		if err := rows.Scan(&h.NoteID, &h.Ordinal, &h.Text, &h.ByteStart, &h.ByteEnd, &h.Rank); err != nil {
			return nil, komaerr.Wrap(komaerr.KindSQL, "scan fts hit", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, komaerr.Wrap(komaerr.KindSQL, "iterate fts hits", err)
	}
	return hits, nil
}

// VectorHit is one dense-ANN search result.
type VectorHit struct {
	NoteID    string
	Ordinal   int
	Text      string
	ByteStart int
	ByteEnd   int
	Distance  float64
}

// VectorSearch runs a vec0 nearest-neighbor query restricted by scopeFilter,
// returning up to limit hits ordered by ascending distance.
func (s *Store) VectorSearch(ctx context.Context, queryVec []float32, limit int, scopeFilter ScopeFilter) ([]VectorHit, error) {
	if s.dim == 0 {
		return nil, nil
	}
	if len(queryVec) != s.dim {
		return nil, komaerr.EmbeddingDimMismatch(s.dim, len(queryVec))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, err := ncruces.SerializeFloat32(queryVec)
	if err != nil {
		return nil, komaerr.Wrap(komaerr.KindSqliteVec, "serialize query vector", err)
	}

	sqlQuery := fmt.Sprintf(`
		SELECT v.note_id, v.ordinal, c.text, c.byte_start, c.byte_end, v.distance
		FROM note_vectors v
		JOIN note_chunks c ON c.note_id = v.note_id AND c.ordinal = v.ordinal
		JOIN notes n ON n.id = v.note_id
		WHERE v.embedding MATCH ? AND k = ? AND (%s)
		ORDER BY v.distance
	`, scopeFilter.SQL)

	args := append([]any{blob, limit}, scopeFilter.Args...)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, komaerr.Wrap(komaerr.KindSqliteVec, "vector search", err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var h VectorHit
		if err := rows.Scan(&h.NoteID, &h.Ordinal, &h.Text, &h.ByteStart, &h.ByteEnd, &h.Distance); err != nil {
			return nil, komaerr.Wrap(komaerr.KindSqliteVec, "scan vector hit", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, komaerr.Wrap(komaerr.KindSqliteVec, "iterate vector hits", err)
	}
	return hits, nil
}
