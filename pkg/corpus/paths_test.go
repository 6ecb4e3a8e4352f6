package corpus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveDefaultsDBAndTypesPaths(t *testing.T) {
	root := t.TempDir()
	r, err := Resolve(Overrides{DataRoot: root})
	require.NoError(t, err)

	require.Equal(t, filepath.Join(root, "knowledge"), r.Shared)
	require.Equal(t, filepath.Join(root, "reference"), r.Reference)
	require.Equal(t, filepath.Join(root, "knowledge", "index.sqlite3"), r.DBPath)
	require.Equal(t, filepath.Join(root, "knowledge", "types.toml"), r.TypesPath)
}

func TestResolveHonorsOverrides(t *testing.T) {
	root := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "custom.sqlite3")
	typesPath := filepath.Join(t.TempDir(), "custom-types.toml")

	r, err := Resolve(Overrides{DataRoot: root, KnowledgeDBPath: dbPath, TypesAllowlistPath: typesPath})
	require.NoError(t, err)

	require.Equal(t, dbPath, r.DBPath)
	require.Equal(t, typesPath, r.TypesPath)
}

func TestClassify(t *testing.T) {
	root := t.TempDir()
	r, err := Resolve(Overrides{DataRoot: root})
	require.NoError(t, err)

	scope, owner, ok := r.Classify(filepath.Join(r.Shared, "note.md"))
	require.True(t, ok)
	require.Equal(t, ScopeShared, scope)
	require.Empty(t, owner)

	scope, owner, ok = r.Classify(filepath.Join(r.Reference, "dioxus", "topic.md"))
	require.True(t, ok)
	require.Equal(t, ScopeReference, scope)
	require.Empty(t, owner)

	scope, owner, ok = r.Classify(filepath.Join(r.GhostPrivateRoot("alpha"), "note.md"))
	require.True(t, ok)
	require.Equal(t, ScopeGhostPrivate, scope)
	require.Equal(t, "alpha", owner)

	scope, owner, ok = r.Classify(filepath.Join(r.GhostDiaryRoot("alpha"), "2026-01-01.md"))
	require.True(t, ok)
	require.Equal(t, ScopeGhostDiary, scope)
	require.Equal(t, "alpha", owner)

	_, _, ok = r.Classify(filepath.Join(root, "BOOT.md"))
	require.False(t, ok)
}

func TestDiscoverAllFindsSharedReferenceAndGhostDirs(t *testing.T) {
	root := t.TempDir()
	r, err := Resolve(Overrides{DataRoot: root})
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(r.GhostPrivateRoot("alpha"), 0o755))
	require.NoError(t, os.MkdirAll(r.GhostDiaryRoot("alpha"), 0o755))
	// projects dir intentionally left uncreated for alpha.
	require.NoError(t, os.MkdirAll(r.GhostProjectsRoot("bravo"), 0o755))

	roots, err := r.DiscoverAll()
	require.NoError(t, err)

	require.Contains(t, roots, r.Shared)
	require.Contains(t, roots, r.Reference)
	require.Contains(t, roots, r.GhostPrivateRoot("alpha"))
	require.Contains(t, roots, r.GhostDiaryRoot("alpha"))
	require.NotContains(t, roots, r.GhostProjectsRoot("alpha"))
	require.Contains(t, roots, r.GhostProjectsRoot("bravo"))
}

func TestDiscoverAllToleratesMissingGhostsDir(t *testing.T) {
	root := t.TempDir()
	r, err := Resolve(Overrides{DataRoot: root})
	require.NoError(t, err)

	roots, err := r.DiscoverAll()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{r.Shared, r.Reference}, roots)
}

func TestEnsureWithinRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureWithinRoot(root, filepath.Join(root, "a", "b.md")))
	require.Error(t, EnsureWithinRoot(root, filepath.Join(root, "..", "escape.md")))
}
