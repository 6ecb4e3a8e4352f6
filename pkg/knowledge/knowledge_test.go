package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/t-koma/knowledge/internal/store"
	"github.com/t-koma/knowledge/pkg/config"
	"github.com/t-koma/knowledge/pkg/corpus"
	"github.com/t-koma/knowledge/pkg/filelock"
	"github.com/t-koma/knowledge/pkg/ingest"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	dataRoot := t.TempDir()
	roots, err := corpus.Resolve(corpus.Overrides{DataRoot: dataRoot})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(roots.Shared, 0o755))

	dbPath := filepath.Join(t.TempDir(), "index.sqlite3")
	s, err := store.Open(context.Background(), dbPath, 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	pipeline := &ingest.Pipeline{
		Store:     s,
		Allowlist: ingest.Allowlist{},
		Roots:     roots,
		Locks:     filelock.NewRegistry(),
	}

	return &Engine{
		Store:    s,
		Pipeline: pipeline,
		Roots:    roots,
		Search:   config.Default().Search,
	}
}

func TestScenarioCaptureThenSearch(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	_, _, err := e.MemoryCapture(ctx, CaptureRequest{
		Agent:   "alpha",
		Model:   "gpt",
		Payload: "The Bambu Lab A1 has a 256×256×256 mm build volume.",
		Scope:   "ghost_private",
		Source:  "user",
	})
	require.NoError(t, err)

	results, err := e.MemorySearch(ctx, "alpha", "bambu build volume", "all")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, strings.Contains(results[0].SnippetText, "256×256×256 mm"))
}

func TestScenarioNoteCreateCommentValidate(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	id, _, err := e.NoteCreate(ctx, NoteCreateRequest{
		Title: "Rust Allocators", Archetype: "Concept", Scope: "shared",
		Agent: "alpha", Model: "gpt", Body: "...bump allocator...", TrustScore: 5,
	})
	require.NoError(t, err)

	require.NoError(t, e.NoteComment(ctx, "alpha", "gpt", id, "Correct."))
	trust := int64(8)
	require.NoError(t, e.NoteValidate(ctx, "alpha", "gpt", id, &trust))

	note, ok, err := e.Store.GetNoteByID(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(3), note.Version)
	require.Equal(t, int64(8), note.TrustScore)
	require.NotEmpty(t, note.LastValidatedAt)

	comments, err := note.Comments()
	require.NoError(t, err)
	require.Len(t, comments, 1)
	require.Equal(t, "Correct.", comments[0].Text)
}

func TestScenarioPrivateIsolation(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	_, _, err := e.NoteCreate(ctx, NoteCreateRequest{
		Title: "Secret Alpha", Archetype: "Concept", Scope: "ghost_private",
		Agent: "alpha", Model: "gpt", Body: "top secret",
	})
	require.NoError(t, err)

	results, err := e.MemorySearch(ctx, "bravo", "Secret Alpha", "all")
	require.NoError(t, err)
	require.Empty(t, results)

	_, err = e.MemoryGet(ctx, "bravo", "Secret Alpha", "ghost_private")
	require.Error(t, err)
	require.True(t, isUnknownNote(err))
}

func TestScenarioReferenceSave(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	topicID, slug, path, err := e.ReferenceSave(ctx, ReferenceSaveRequest{
		Agent: "alpha", Model: "gpt", Topic: "Dioxus", Path: "docs/intro.md",
		Content: "# Intro\nsome dioxus content", SourceURL: "https://example.com", Role: "docs",
	})
	require.NoError(t, err)
	require.NotEmpty(t, topicID)
	require.Equal(t, "dioxus", slug)
	require.Equal(t, filepath.Join(e.Roots.ReferenceTopicDir("dioxus"), "docs", "intro.md"), path)

	topicFile := filepath.Join(e.Roots.ReferenceTopicDir("dioxus"), "topic.md")
	_, statErr := os.Stat(topicFile)
	require.NoError(t, statErr)

	results, err := e.KnowledgeSearch(ctx, "alpha", "intro", []Category{CategoryReferences}, "all", "dioxus", "")
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

// Orphan cleanup via direct DeleteNoteCascade; the reconciler's detection
// path is exercised in pkg/reconcile's own tests.
func TestScenarioOrphanCleanup(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	id, path, err := e.NoteCreate(ctx, NoteCreateRequest{
		Title: "Temp Note", Archetype: "Concept", Scope: "shared", Agent: "alpha", Model: "gpt", Body: "x",
	})
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	require.NoError(t, e.Store.DeleteNoteCascade(ctx, id))

	_, ok, err := e.Store.GetNoteByID(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNoteValidateRejectsNegativeTrust(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	id, _, err := e.NoteCreate(ctx, NoteCreateRequest{
		Title: "Clamp Check", Archetype: "Concept", Scope: "shared",
		Agent: "alpha", Model: "gpt", Body: "x", TrustScore: 5,
	})
	require.NoError(t, err)

	bad := int64(-1)
	require.Error(t, e.NoteValidate(ctx, "alpha", "gpt", id, &bad))

	// Over-range values clamp to 10 instead of failing.
	high := int64(99)
	require.NoError(t, e.NoteValidate(ctx, "alpha", "gpt", id, &high))
	note, ok, err := e.Store.GetNoteByID(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(10), note.TrustScore)
}

func TestKnowledgeSearchTopicFilterExcludesOtherTopics(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	_, _, _, err := e.ReferenceSave(ctx, ReferenceSaveRequest{
		Agent: "alpha", Model: "gpt", Topic: "Dioxus", Path: "docs/widgets.md",
		Content: "widgets in dioxus",
	})
	require.NoError(t, err)
	_, _, _, err = e.ReferenceSave(ctx, ReferenceSaveRequest{
		Agent: "alpha", Model: "gpt", Topic: "Bevy", Path: "docs/widgets.md",
		Content: "widgets in bevy",
	})
	require.NoError(t, err)

	results, err := e.KnowledgeSearch(ctx, "alpha", "widgets", nil, "all", "dioxus", "")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	dioxusDir := e.Roots.ReferenceTopicDir("dioxus")
	for _, r := range results {
		require.True(t, strings.HasPrefix(r.Path, dioxusDir), "result %s leaked from another topic", r.Path)
	}
}

func TestReferenceGetByPath(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	_, _, _, err := e.ReferenceSave(ctx, ReferenceSaveRequest{
		Agent: "alpha", Model: "gpt", Topic: "Dioxus", Path: "docs/intro.md",
		Content: "# Intro\nrendered content",
	})
	require.NoError(t, err)

	doc, err := e.ReferenceGetByPath(ctx, "alpha", "dioxus", "docs/intro.md", 0)
	require.NoError(t, err)
	require.Contains(t, doc.Body, "rendered content")

	_, err = e.ReferenceGetByPath(ctx, "alpha", "dioxus", "docs/missing.md", 0)
	require.Error(t, err)
	require.True(t, isUnknownNote(err))
}

func TestTopicUpdatePersistsStatusThroughFile(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	topicID, _, _, err := e.ReferenceSave(ctx, ReferenceSaveRequest{
		Agent: "alpha", Model: "gpt", Topic: "Dioxus", Path: "intro.md", Content: "x",
	})
	require.NoError(t, err)

	status := "obsolete"
	require.NoError(t, e.TopicUpdate(ctx, "alpha", "gpt", topicID, TopicUpdatePatch{Status: &status}))

	topics, err := e.TopicList(ctx, true)
	require.NoError(t, err)
	require.Len(t, topics, 1)
	require.Equal(t, "obsolete", topics[0].Status)

	// The status lives in the topic file's front matter, not just the row.
	topicPath := filepath.Join(e.Roots.ReferenceTopicDir("dioxus"), "topic.md")
	parsed, err := readAndParse(topicPath)
	require.NoError(t, err)
	require.Equal(t, "obsolete", parsed.Front.Status)

	excluded, err := e.TopicList(ctx, false)
	require.NoError(t, err)
	require.Empty(t, excluded)
}

func isUnknownNote(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unknown_note")
}
