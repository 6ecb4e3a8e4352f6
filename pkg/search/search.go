// Package search implements the engine's hybrid query: FTS5 lexical search
// fused with dense vector search via Reciprocal-Rank-Fusion, trust/doc-role
// boosts, deduplication to parent notes, and graph expansion.
package search

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/t-koma/knowledge/internal/store"
	"github.com/t-koma/knowledge/pkg/config"
	"github.com/t-koma/knowledge/pkg/embedding"
	"github.com/t-koma/knowledge/pkg/graph"
)

// Embedder is the subset of embedding.Client the searcher needs, kept as an
// interface so tests can stub it out without standing up an HTTP server.
type Embedder interface {
	EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error)
}

var _ Embedder = (*embedding.Client)(nil)

// Query is one hybrid-search request.
type Query struct {
	Text  string
	Agent string
	// Scope narrows the candidate pool beyond the base access policy:
	// "all" (default), "shared", or "private".
	Scope string
	// ReferenceRoot, if set, lets the obsolete-topic penalty locate a
	// reference file's enclosing topic by path.
	ReferenceRoot string
}

// Result is one ranked hit returned to a caller.
type Result struct {
	NoteID          string
	Title           string
	Archetype       string
	Scope           string
	Path            string
	Score           float64
	SnippetText     string
	SnippetStart    int
	SnippetEnd      int
	TrustScore      int64
	LastValidatedAt string
}

// scopeFilterFor maps a Query's Scope field onto a store.ScopeFilter.
func scopeFilterFor(q Query) store.ScopeFilter {
	switch q.Scope {
	case "shared":
		return store.SharedOnly()
	case "private":
		return store.PrivateOnly(q.Agent)
	default:
		return store.ReadableByAgent(q.Agent)
	}
}

// chunkKey identifies one chunk for fusion/dedup bookkeeping.
type chunkKey struct {
	noteID  string
	ordinal int
}

// snippet is a chunk's text plus its byte span within the note body.
type snippet struct {
	text  string
	start int
	end   int
}

// Search runs the full hybrid pipeline and returns up to cfg.MaxResults
// results, highest-scoring first.
func Search(ctx context.Context, s *store.Store, embedder Embedder, cfg config.Search, q Query) ([]Result, error) {
	scopeFilter := scopeFilterFor(q)

	ftsHits, err := s.FTSSearch(ctx, q.Text, cfg.BM25Limit, scopeFilter)
	if err != nil {
		return nil, err
	}

	var vecHits []store.VectorHit
	if embedder != nil && s.Dimension() > 0 {
		vecs, err := embedder.EmbedBatch(ctx, []string{q.Text})
		if err != nil {
			return nil, err
		}
		if len(vecs) == 1 {
			vecHits, err = s.VectorSearch(ctx, vecs[0], cfg.DenseLimit, scopeFilter)
			if err != nil {
				return nil, err
			}
		}
	}

	rrfK := cfg.RRFK
	if rrfK <= 0 {
		rrfK = 60
	}

	scores := make(map[chunkKey]float64)
	snippets := make(map[chunkKey]snippet)

	for rank, h := range ftsHits {
		k := chunkKey{h.NoteID, h.Ordinal}
		scores[k] += 1.0 / float64(rrfK+rank+1)
		snippets[k] = snippet{text: h.Text, start: h.ByteStart, end: h.ByteEnd}
	}
	for rank, h := range vecHits {
		k := chunkKey{h.NoteID, h.Ordinal}
		scores[k] += 1.0 / float64(rrfK+rank+1)
		if _, ok := snippets[k]; !ok {
			snippets[k] = snippet{text: h.Text, start: h.ByteStart, end: h.ByteEnd}
		}
	}

	// Apply boosts, then dedup to parent note keeping the max chunk score.
	bestPerNote := make(map[string]chunkKey)
	noteScore := make(map[string]float64)

	noteCache := make(map[string]store.Note)
	for k := range scores {
		note, cached := noteCache[k.noteID]
		if !cached {
			n, ok, err := s.GetNoteByID(ctx, k.noteID)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			note = n
			noteCache[k.noteID] = n
		}

		boosted := scores[k] * trustBoost(note.TrustScore)
		if isDocRole(ctx, s, note) {
			if cfg.DocBoost > 0 {
				boosted *= cfg.DocBoost
			}
		}
		if isObsoleteTopic(ctx, s, note, q.ReferenceRoot) {
			boosted *= 0.25
		}

		if cur, ok := noteScore[k.noteID]; !ok || boosted > cur {
			noteScore[k.noteID] = boosted
			bestPerNote[k.noteID] = k
		}
	}

	type scored struct {
		noteID string
		score  float64
		note   store.Note
		chunk  chunkKey
	}
	var ranked []scored
	for noteID, sc := range noteScore {
		ranked = append(ranked, scored{noteID: noteID, score: sc, note: noteCache[noteID], chunk: bestPerNote[noteID]})
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.note.TrustScore != b.note.TrustScore {
			return a.note.TrustScore > b.note.TrustScore
		}
		if a.note.LastValidatedAt != b.note.LastValidatedAt {
			return a.note.LastValidatedAt > b.note.LastValidatedAt
		}
		return a.noteID < b.noteID
	})

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 8
	}

	graphDepth := cfg.GraphDepth
	if graphDepth <= 0 {
		graphDepth = 1
	}
	graphMax := cfg.GraphMax
	if graphMax <= 0 {
		graphMax = 20
	}

	seedCount := maxResults
	if seedCount > len(ranked) {
		seedCount = len(ranked)
	}
	seeds := make([]string, seedCount)
	for i := 0; i < seedCount; i++ {
		seeds[i] = ranked[i].noteID
	}

	neighbors, err := graph.Expand(ctx, s, seeds, graphDepth, graphMax, q.Agent)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(ranked))
	for _, r := range ranked {
		present[r.noteID] = true
	}

	baseScore := 0.0
	if len(ranked) > 0 {
		baseScore = ranked[len(ranked)-1].score
	}
	for _, nb := range neighbors {
		if present[nb.NoteID] {
			continue
		}
		n, ok, err := s.GetNoteByID(ctx, nb.NoteID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		decay := 1.0
		for i := 0; i < nb.Depth; i++ {
			decay *= 0.6
		}
		ranked = append(ranked, scored{noteID: nb.NoteID, score: baseScore * decay, note: n})
		present[nb.NoteID] = true
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.note.TrustScore != b.note.TrustScore {
			return a.note.TrustScore > b.note.TrustScore
		}
		if a.note.LastValidatedAt != b.note.LastValidatedAt {
			return a.note.LastValidatedAt > b.note.LastValidatedAt
		}
		return a.noteID < b.noteID
	})

	if len(ranked) > maxResults {
		ranked = ranked[:maxResults]
	}

	out := make([]Result, 0, len(ranked))
	for _, r := range ranked {
		res := Result{
			NoteID:          r.noteID,
			Title:           r.note.Title,
			Archetype:       r.note.EffectiveArchetype(),
			Scope:           r.note.Scope,
			Path:            r.note.Path,
			Score:           r.score,
			TrustScore:      r.note.TrustScore,
			LastValidatedAt: r.note.LastValidatedAt,
		}
		if sn, ok := snippets[r.chunk]; ok {
			res.SnippetText = sn.text
			res.SnippetStart = sn.start
			res.SnippetEnd = sn.end
		}
		out = append(out, res)
	}
	return out, nil
}

// trustBoost is the trust multiplier:
// 1 + 0.05 * clamp(trust_score - 5, -5, 5).
func trustBoost(trust int64) float64 {
	delta := float64(trust - 5)
	if delta > 5 {
		delta = 5
	}
	if delta < -5 {
		delta = -5
	}
	return 1 + 0.05*delta
}

// isDocRole reports whether a note carries the "role:docs" tag, the
// convention reference_save uses to record a reference file's role. The
// data model has no dedicated column for it; the role rides on the
// existing tags table.
func isDocRole(ctx context.Context, s *store.Store, note store.Note) bool {
	if note.Scope != "reference" {
		return false
	}
	tags, err := s.TagsFor(ctx, note.ID)
	if err != nil {
		return false
	}
	for _, t := range tags {
		if t == "role:docs" {
			return true
		}
	}
	return false
}

// isObsoleteTopic reports whether note lives under a topic marked obsolete.
func isObsoleteTopic(ctx context.Context, s *store.Store, note store.Note, referenceRoot string) bool {
	if note.Scope != "reference" || referenceRoot == "" {
		return false
	}
	rel, err := filepath.Rel(referenceRoot, note.Path)
	if err != nil {
		return false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) == 0 {
		return false
	}
	slug := parts[0]
	topic, ok, err := s.GetTopicBySlug(ctx, slug)
	if err != nil || !ok {
		return false
	}
	return topic.Status == "obsolete"
}
