package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/t-koma/knowledge/internal/store"
	"github.com/t-koma/knowledge/pkg/corpus"
	"github.com/t-koma/knowledge/pkg/filelock"
)

func testPipeline(t *testing.T, dim int, embedder Embedder) (*Pipeline, corpus.Roots) {
	t.Helper()
	dataRoot := t.TempDir()
	roots, err := corpus.Resolve(corpus.Overrides{DataRoot: dataRoot})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(roots.Shared, 0o755))

	dbPath := filepath.Join(t.TempDir(), "index.sqlite3")
	s, err := store.Open(context.Background(), dbPath, dim, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return &Pipeline{
		Store:     s,
		Embedder:  embedder,
		Allowlist: Allowlist{archetypes: map[string]bool{"fact": true}},
		Roots:     roots,
		Locks:     filelock.NewRegistry(),
	}, roots
}

const sampleNote = `+++
id = "n1"
title = "Printer Bed Size"
archetype = "fact"
created_at = 2025-01-01T00:00:00Z
version = 1

[created_by]
ghost = "aria"
model = "gpt"
+++

The bed is 256x256x256mm.
`

func writeNote(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestIngestFileCreatesNoteChunksAndTags(t *testing.T) {
	p, roots := testPipeline(t, 0, nil)
	path := filepath.Join(roots.Shared, "note.md")
	writeNote(t, path, sampleNote)

	res, err := p.IngestFile(context.Background(), path)
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.Equal(t, "n1", res.NoteID)

	n, ok, err := p.Store.GetNoteByID(context.Background(), "n1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Printer Bed Size", n.Title)
	require.True(t, n.TypeValid)
	require.Equal(t, "shared", n.Scope)
}

func TestIngestFileSkipsUnchangedContent(t *testing.T) {
	p, roots := testPipeline(t, 0, nil)
	path := filepath.Join(roots.Shared, "note.md")
	writeNote(t, path, sampleNote)

	_, err := p.IngestFile(context.Background(), path)
	require.NoError(t, err)

	res, err := p.IngestFile(context.Background(), path)
	require.NoError(t, err)
	require.True(t, res.Skipped)
}

func TestIngestFileReingestsOnContentChange(t *testing.T) {
	p, roots := testPipeline(t, 0, nil)
	path := filepath.Join(roots.Shared, "note.md")
	writeNote(t, path, sampleNote)

	_, err := p.IngestFile(context.Background(), path)
	require.NoError(t, err)

	changed := sampleNote + "\nAdditional detail about the bed surface.\n"
	writeNote(t, path, changed)

	res, err := p.IngestFile(context.Background(), path)
	require.NoError(t, err)
	require.False(t, res.Skipped)
}

func TestIngestFileMarksUnknownArchetypeInvalidButStillIndexes(t *testing.T) {
	p, roots := testPipeline(t, 0, nil)
	path := filepath.Join(roots.Shared, "note.md")
	body := `+++
id = "n2"
title = "Mystery Note"
archetype = "mystery"
created_at = 2025-01-01T00:00:00Z

[created_by]
ghost = "aria"
model = "gpt"
+++

body text
`
	writeNote(t, path, body)

	res, err := p.IngestFile(context.Background(), path)
	require.NoError(t, err)

	n, ok, err := p.Store.GetNoteByID(context.Background(), res.NoteID)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, n.TypeValid)
}

func TestIngestFileLeavesExistingRowOnParseFailure(t *testing.T) {
	p, roots := testPipeline(t, 0, nil)
	path := filepath.Join(roots.Shared, "note.md")
	writeNote(t, path, sampleNote)

	_, err := p.IngestFile(context.Background(), path)
	require.NoError(t, err)

	writeNote(t, path, "no front matter here at all")

	_, err = p.IngestFile(context.Background(), path)
	require.Error(t, err)

	n, ok, err := p.Store.GetNoteByID(context.Background(), "n1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Printer Bed Size", n.Title)
}

type fixedEmbedder struct{ dim int }

func (f fixedEmbedder) EmbedBatch(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range out {
		v := make([]float32, f.dim)
		v[0] = float32(i + 1)
		out[i] = v
	}
	return out, nil
}

// countingEmbedder wraps fixedEmbedder to count embed calls, letting tests
// prove the content-hash gate short-circuits re-embedding.
type countingEmbedder struct {
	fixedEmbedder
	calls int
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	c.calls++
	return c.fixedEmbedder.EmbedBatch(ctx, inputs)
}

func TestIngestFileUnchangedContentIsNotReembedded(t *testing.T) {
	emb := &countingEmbedder{fixedEmbedder: fixedEmbedder{dim: 4}}
	p, roots := testPipeline(t, 4, emb)
	path := filepath.Join(roots.Shared, "note.md")
	writeNote(t, path, sampleNote)

	_, err := p.IngestFile(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 1, emb.calls)

	res, err := p.IngestFile(context.Background(), path)
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Equal(t, 1, emb.calls, "unchanged file must not be re-embedded")
}

func TestIngestFileEmbedsChunksWhenDimensionConfigured(t *testing.T) {
	p, roots := testPipeline(t, 4, fixedEmbedder{dim: 4})
	path := filepath.Join(roots.Shared, "note.md")
	writeNote(t, path, sampleNote)

	res, err := p.IngestFile(context.Background(), path)
	require.NoError(t, err)

	hits, err := p.Store.VectorSearch(context.Background(), []float32{1, 0, 0, 0}, 5, store.SharedOnly())
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, res.NoteID, hits[0].NoteID)
}
