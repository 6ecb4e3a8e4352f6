package search

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/t-koma/knowledge/internal/store"
	"github.com/t-koma/knowledge/pkg/config"
)

func openTestStore(t *testing.T, dim int) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.sqlite3")
	s, err := store.Open(context.Background(), path, dim, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func note(id, title, scope string, trust int64) store.Note {
	return store.Note{
		ID: id, Title: title, Scope: scope,
		CreatedAt: "2025-01-01T00:00:00Z", CreatedByGhost: "t", CreatedByModel: "m",
		TrustScore: trust, Version: 1, ContentHash: "h-" + id, Path: "/p/" + id,
	}
}

// fixedEmbedder always returns the same vector regardless of input, letting
// tests control dense-search ranking deterministically.
type fixedEmbedder struct {
	vec []float32
}

func (f fixedEmbedder) EmbedBatch(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range out {
		out[i] = f.vec
	}
	return out, nil
}

func TestSearchLexicalPhraseRanksExactMatchFirst(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, s.UpsertNote(ctx, note("alpha", "Alpha Bravo Note", "shared", 5)))
	require.NoError(t, s.ReplaceChunks(ctx, "alpha", []store.Chunk{{NoteID: "alpha", Text: "the phrase alpha bravo appears here exactly", ByteEnd: 10}}))

	require.NoError(t, s.UpsertNote(ctx, note("greek", "Greek Letters Note", "shared", 5)))
	require.NoError(t, s.ReplaceChunks(ctx, "greek", []store.Chunk{{NoteID: "greek", Text: "discussion of the first letter of the greek alphabet", ByteEnd: 10}}))

	results, err := Search(ctx, s, nil, config.Search{MaxResults: 8, BM25Limit: 20, DenseLimit: 20, RRFK: 60}, Query{Text: "alpha bravo", Agent: "a"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "alpha", results[0].NoteID)
}

func TestSearchTrustBoostOrdersEqualLexicalScores(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, s.UpsertNote(ctx, note("low", "Widget Guide", "shared", 0)))
	require.NoError(t, s.ReplaceChunks(ctx, "low", []store.Chunk{{NoteID: "low", Text: "widget widget widget", ByteEnd: 10}}))

	require.NoError(t, s.UpsertNote(ctx, note("high", "Widget Manual", "shared", 10)))
	require.NoError(t, s.ReplaceChunks(ctx, "high", []store.Chunk{{NoteID: "high", Text: "widget widget widget", ByteEnd: 10}}))

	results, err := Search(ctx, s, nil, config.Search{MaxResults: 8, BM25Limit: 20, DenseLimit: 20, RRFK: 60}, Query{Text: "widget", Agent: "a"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "high", results[0].NoteID, "higher trust score should rank first when lexical scores tie")
}

func TestSearchDenseFusionRanksSemanticNeighborWithoutLexicalMatch(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()

	require.NoError(t, s.UpsertNote(ctx, note("exact", "Exact Phrase", "shared", 5)))
	require.NoError(t, s.ReplaceChunks(ctx, "exact", []store.Chunk{{NoteID: "exact", Text: "alpha bravo appears verbatim", ByteEnd: 10}}))
	require.NoError(t, s.ReplaceVectors(ctx, "exact", []store.Vector{{NoteID: "exact", Ordinal: 0, Embedding: []float32{1, 0}}}))

	require.NoError(t, s.UpsertNote(ctx, note("semantic", "Greek Letters", "shared", 5)))
	require.NoError(t, s.ReplaceChunks(ctx, "semantic", []store.Chunk{{NoteID: "semantic", Text: "discussion of early greek symbols", ByteEnd: 10}}))
	require.NoError(t, s.ReplaceVectors(ctx, "semantic", []store.Vector{{NoteID: "semantic", Ordinal: 0, Embedding: []float32{0, 1}}}))

	// The paraphrased query shares no tokens with either chunk; only the
	// dense leg can rank, and the embedder puts it next to "semantic".
	results, err := Search(ctx, s, fixedEmbedder{vec: []float32{0, 1}},
		config.Search{MaxResults: 8, BM25Limit: 20, DenseLimit: 20, RRFK: 60},
		Query{Text: "initial hellenic characters", Agent: "a"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "semantic", results[0].NoteID)
}

func TestSearchPrivateScopeNeverLeaks(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, s.UpsertNote(ctx, store.Note{
		ID: "priv", Title: "Ghost B Secret", Scope: "ghost_private", OwnerGhost: "ghost-b",
		CreatedAt: "2025-01-01T00:00:00Z", CreatedByGhost: "ghost-b", CreatedByModel: "m",
		TrustScore: 5, Version: 1, ContentHash: "h", Path: "/p",
	}))
	require.NoError(t, s.ReplaceChunks(ctx, "priv", []store.Chunk{{NoteID: "priv", Text: "a very specific secret phrase", ByteEnd: 10}}))

	results, err := Search(ctx, s, nil, config.Search{MaxResults: 8, BM25Limit: 20, DenseLimit: 20, RRFK: 60}, Query{Text: "secret phrase", Agent: "ghost-a", Scope: "all"})
	require.NoError(t, err)
	for _, r := range results {
		require.NotEqual(t, "priv", r.NoteID)
	}
}
