// Package graph resolves wiki-link targets to note IDs and expands a seed
// set of notes by link adjacency, always filtering by the access policy so
// expansion never crosses into another agent's private scope.
package graph

import (
	"context"
	"sort"

	"github.com/t-koma/knowledge/internal/store"
)

// Neighbor is one note reached during expansion, with its BFS depth.
type Neighbor struct {
	NoteID string
	Depth  int
}

// ResolveLink finds the note ID of an exact case-insensitive title match
// for target within a scope readable by agent, or ok=false if none exists.
func ResolveLink(ctx context.Context, s *store.Store, target string, agent string) (noteID string, ok bool, err error) {
	notes, err := s.FindNotesByTitleCI(ctx, target, store.ReadableByAgent(agent))
	if err != nil {
		return "", false, err
	}
	if len(notes) == 0 {
		return "", false, nil
	}
	return notes[0].ID, true, nil
}

// Expand performs a breadth-first expansion over out-links from seeds,
// bounded by depth and max, returning neighbors in BFS-layer order with
// ties broken by ascending note ID. Only edges whose target is
// readable by agent are traversed, so expansion can never surface another
// agent's private notes.
func Expand(ctx context.Context, s *store.Store, seeds []string, depth int, max int, agent string) ([]Neighbor, error) {
	if depth <= 0 || max <= 0 || len(seeds) == 0 {
		return nil, nil
	}

	scopeFilter := store.ReadableByAgent(agent)
	visited := make(map[string]bool, len(seeds))
	for _, seed := range seeds {
		visited[seed] = true
	}

	var neighbors []Neighbor
	frontier := append([]string(nil), seeds...)

	for d := 1; d <= depth && len(neighbors) < max; d++ {
		var nextFrontier []string
		layer := make(map[string]bool)

		for _, sourceID := range frontier {
			links, err := s.LinksOut(ctx, sourceID, max, scopeFilter)
			if err != nil {
				return nil, err
			}
			for _, l := range links {
				if l.TargetID == "" || visited[l.TargetID] || layer[l.TargetID] {
					continue
				}
				layer[l.TargetID] = true
			}
		}

		layerIDs := make([]string, 0, len(layer))
		for id := range layer {
			layerIDs = append(layerIDs, id)
		}
		sort.Strings(layerIDs)

		for _, id := range layerIDs {
			if len(neighbors) >= max {
				break
			}
			neighbors = append(neighbors, Neighbor{NoteID: id, Depth: d})
			visited[id] = true
			nextFrontier = append(nextFrontier, id)
		}

		frontier = nextFrontier
	}

	return neighbors, nil
}
