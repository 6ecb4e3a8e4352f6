// Package knowledge implements the engine API: the methods tool
// implementations call to search, read, and write the knowledge corpus,
// each enforcing the per-agent access policy.
package knowledge

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/t-koma/knowledge/internal/store"
	"github.com/t-koma/knowledge/pkg/config"
	"github.com/t-koma/knowledge/pkg/corpus"
	"github.com/t-koma/knowledge/pkg/ingest"
	"github.com/t-koma/knowledge/pkg/komaerr"
	"github.com/t-koma/knowledge/pkg/parser"
	"github.com/t-koma/knowledge/pkg/search"
)

// Engine is the knowledge & memory engine: every write goes through its
// Pipeline (hash gate, chunk, embed, index); every read goes through its
// Store. Searches and title lookups apply the access-policy filter at the
// SQL level; lookups by id or path fetch the row unfiltered and check
// readable() in Go before returning anything.
type Engine struct {
	Store    *store.Store
	Pipeline *ingest.Pipeline
	Embedder search.Embedder // may be nil: disables dense search and topic_search
	Roots    corpus.Roots
	Search   config.Search
	Log      *logrus.Entry
}

func (e *Engine) log() *logrus.Entry {
	if e.Log != nil {
		return e.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func (e *Engine) now() time.Time { return time.Now().UTC() }

func newID() string { return uuid.NewString() }

// MemorySearch runs a hybrid search over the scope named by scope: "all"
// (shared ∪ agent-private), "shared", or "private" (the agent's own scopes
// only).
func (e *Engine) MemorySearch(ctx context.Context, agent, query, scope string) ([]search.Result, error) {
	return search.Search(ctx, e.Store, e.Embedder, e.Search, search.Query{
		Text: query, Agent: agent, Scope: scope, ReferenceRoot: e.Roots.Reference,
	})
}

// Category narrows knowledge_search to a subset of archetypes/scopes.
type Category string

const (
	CategoryNotes      Category = "notes"
	CategoryDiary      Category = "diary"
	CategoryReferences Category = "references"
	CategoryTopics     Category = "topics"
)

// KnowledgeSearch runs a hybrid search restricted to the given categories
// and, optionally, a single topic or archetype.
func (e *Engine) KnowledgeSearch(ctx context.Context, agent, query string, categories []Category, scope, topic, archetype string) ([]search.Result, error) {
	results, err := search.Search(ctx, e.Store, e.Embedder, e.Search, search.Query{
		Text: query, Agent: agent, Scope: scope, ReferenceRoot: e.Roots.Reference,
	})
	if err != nil {
		return nil, err
	}

	topicDir := ""
	if topic != "" {
		slug := slugify(topic)
		if t, ok, err := e.Store.GetTopicBySlug(ctx, slug); err != nil {
			return nil, err
		} else if ok {
			slug = t.TopicSlug
		}
		topicDir = e.Roots.ReferenceTopicDir(slug) + string(filepath.Separator)
	}

	filtered := results[:0]
	for _, r := range results {
		if archetype != "" && !strings.EqualFold(r.Archetype, archetype) {
			continue
		}
		if len(categories) > 0 && !matchesCategory(r, categories) {
			continue
		}
		if topicDir != "" && !strings.HasPrefix(r.Path, topicDir) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered, nil
}

func matchesCategory(r search.Result, categories []Category) bool {
	isTopic := strings.EqualFold(r.Archetype, "referencetopic")
	for _, c := range categories {
		switch c {
		case CategoryDiary:
			if r.Scope == "ghost_diary" {
				return true
			}
		case CategoryReferences:
			if r.Scope == "reference" && !isTopic {
				return true
			}
		case CategoryTopics:
			if isTopic {
				return true
			}
		case CategoryNotes:
			if r.Scope != "reference" {
				return true
			}
		}
	}
	return false
}

// readable reports whether agent may read note, mirroring
// store.ReadableByAgent for a note already fetched by id.
func readable(note store.Note, agent string) bool {
	switch note.Scope {
	case "shared", "reference":
		return true
	case "ghost_private", "ghost_projects", "ghost_diary":
		return note.OwnerGhost == agent
	default:
		return false
	}
}

// writable reports whether agent may modify note: shared notes are
// editable by anyone, private-scoped notes only by their owner.
func writable(note store.Note, agent string) bool {
	if note.Scope == "shared" {
		return true
	}
	return readable(note, agent)
}

// KnowledgeGet fetches a single note's rendered body and metadata by id,
// enforcing access policy; UnknownNote covers both absence and denial.
func (e *Engine) KnowledgeGet(ctx context.Context, agent, id string, maxChars int) (Document, error) {
	note, ok, err := e.Store.GetNoteByID(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if !ok || !readable(note, agent) {
		return Document{}, komaerr.UnknownNote(id)
	}
	return e.loadDocument(ctx, note, maxChars)
}

// MemoryGet resolves idOrTitle by id first, then by case-insensitive title
// within the scope readable by agent (narrowed further by scope).
func (e *Engine) MemoryGet(ctx context.Context, agent, idOrTitle, scope string) (Document, error) {
	if note, ok, err := e.Store.GetNoteByID(ctx, idOrTitle); err != nil {
		return Document{}, err
	} else if ok {
		if !readable(note, agent) {
			return Document{}, komaerr.UnknownNote(idOrTitle)
		}
		return e.loadDocument(ctx, note, 0)
	}

	filter := scopeFilterFor(agent, scope)
	notes, err := e.Store.FindNotesByTitleCI(ctx, idOrTitle, filter)
	if err != nil {
		return Document{}, err
	}
	if len(notes) == 0 {
		return Document{}, komaerr.UnknownNote(idOrTitle)
	}
	return e.loadDocument(ctx, notes[0], 0)
}

func scopeFilterFor(agent, scope string) store.ScopeFilter {
	switch scope {
	case "shared":
		return store.SharedOnly()
	case "private", "ghost_private", "ghost_projects", "ghost_diary":
		return store.PrivateOnly(agent)
	default:
		return store.ReadableByAgent(agent)
	}
}

// Document is a note's metadata plus its rendered body, returned by
// knowledge_get / reference_get / memory_get.
type Document struct {
	NoteID     string
	Title      string
	Archetype  string
	Scope      string
	Body       string
	Truncated  bool
	TrustScore int64
	Version    int64
	Tags       []string
	Comments   []parser.CommentEntry
}

func (e *Engine) loadDocument(ctx context.Context, note store.Note, maxChars int) (Document, error) {
	parsed, err := readAndParse(note.Path)
	if err != nil {
		return Document{}, err
	}
	body := parsed.Body
	comments, err := note.Comments()
	if err != nil {
		return Document{}, err
	}
	tags, err := e.Store.TagsFor(ctx, note.ID)
	if err != nil {
		return Document{}, err
	}

	truncated := false
	if maxChars > 0 && len(body) > maxChars {
		body = body[:maxChars]
		truncated = true
	}

	return Document{
		NoteID:     note.ID,
		Title:      note.Title,
		Archetype:  note.EffectiveArchetype(),
		Scope:      note.Scope,
		Body:       body,
		Truncated:  truncated,
		TrustScore: note.TrustScore,
		Version:    note.Version,
		Tags:       tags,
		Comments:   comments,
	}, nil
}
