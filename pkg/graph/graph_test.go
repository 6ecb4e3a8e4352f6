package graph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/t-koma/knowledge/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.sqlite3")
	s, err := store.Open(context.Background(), path, 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func note(id, title, scope, owner string) store.Note {
	return store.Note{
		ID: id, Title: title, Scope: scope, OwnerGhost: owner,
		CreatedAt: "2025-01-01T00:00:00Z", CreatedByGhost: "t", CreatedByModel: "m",
		TrustScore: 5, Version: 1, ContentHash: "h-" + id, Path: "/p/" + id,
	}
}

func TestResolveLinkRespectsScope(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertNote(ctx, note("priv-a", "Secret Alpha", "ghost_private", "ghost-a")))

	_, ok, err := ResolveLink(ctx, s, "Secret Alpha", "ghost-b")
	require.NoError(t, err)
	require.False(t, ok, "ghost-b must not resolve ghost-a's private note")

	id, ok, err := ResolveLink(ctx, s, "Secret Alpha", "ghost-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "priv-a", id)
}

func TestExpandBFSOrderAndDepthDecay(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNote(ctx, note("seed", "Seed", "shared", "")))
	require.NoError(t, s.UpsertNote(ctx, note("n1", "Neighbor One", "shared", "")))
	require.NoError(t, s.UpsertNote(ctx, note("n2", "Neighbor Two", "shared", "")))
	require.NoError(t, s.UpsertNote(ctx, note("n3", "Neighbor Three (depth 2)", "shared", "")))

	require.NoError(t, s.ReplaceLinks(ctx, "seed", []store.Link{
		{SourceID: "seed", TargetTitle: "Neighbor One"},
		{SourceID: "seed", TargetTitle: "Neighbor Two"},
	}))
	require.NoError(t, s.ReplaceLinks(ctx, "n1", []store.Link{
		{SourceID: "n1", TargetTitle: "Neighbor Three (depth 2)"},
	}))

	neighbors, err := Expand(ctx, s, []string{"seed"}, 1, 20, "anyone")
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	require.Equal(t, "n1", neighbors[0].NoteID)
	require.Equal(t, "n2", neighbors[1].NoteID)
	require.Equal(t, 1, neighbors[0].Depth)

	neighbors, err = Expand(ctx, s, []string{"seed"}, 2, 20, "anyone")
	require.NoError(t, err)
	require.Len(t, neighbors, 3)
	require.Equal(t, "n3", neighbors[2].NoteID)
	require.Equal(t, 2, neighbors[2].Depth)
}

func TestExpandNeverCrossesPrivateScope(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNote(ctx, note("seed", "Seed", "shared", "")))
	require.NoError(t, s.UpsertNote(ctx, note("priv-b", "Ghost B Private", "ghost_private", "ghost-b")))
	require.NoError(t, s.ReplaceLinks(ctx, "seed", []store.Link{{SourceID: "seed", TargetTitle: "Ghost B Private"}}))

	neighbors, err := Expand(ctx, s, []string{"seed"}, 1, 20, "ghost-a")
	require.NoError(t, err)
	require.Empty(t, neighbors)
}
