package knowledge

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/t-koma/knowledge/internal/store"
	"github.com/t-koma/knowledge/pkg/corpus"
	"github.com/t-koma/knowledge/pkg/komaerr"
	"github.com/t-koma/knowledge/pkg/parser"
	"github.com/t-koma/knowledge/pkg/search"
)

// ReferenceSaveRequest is the input to reference_save.
type ReferenceSaveRequest struct {
	Agent     string
	Model     string
	Topic     string
	Path      string // relative to the topic directory, e.g. "docs/intro.md"
	Content   string
	SourceURL string
	Role      string // "docs" sets the role:docs tag used by the search doc-boost
}

// ReferenceSave fuzzy-matches topic against existing reference topics
// (case-insensitive exact, then substring, then Levenshtein <= 2, tie-break
// by shortest title), creating a new topic if none match, then
// writes reference/<topic-slug>/<path> and ingests it. When path contains a
// "/", the enclosing collection's index.md is regenerated.
func (e *Engine) ReferenceSave(ctx context.Context, req ReferenceSaveRequest) (topicID, topicSlug, filePath string, err error) {
	topicID, topicSlug, err = e.resolveOrCreateTopic(ctx, req.Agent, req.Model, req.Topic)
	if err != nil {
		return "", "", "", err
	}

	topicDir := e.Roots.ReferenceTopicDir(topicSlug)
	target := filepath.Join(topicDir, filepath.FromSlash(req.Path))
	if err := ensureWithinTopic(topicDir, target); err != nil {
		return "", "", "", err
	}

	title := strings.TrimSuffix(filepath.Base(req.Path), filepath.Ext(req.Path))
	front := parser.FrontMatter{
		ID:         newID(),
		Title:      title,
		Archetype:  "reference",
		CreatedAt:  e.now(),
		CreatedBy:  parser.CreatedBy{Ghost: req.Agent, Model: req.Model},
		TrustScore: 5,
		Version:    1,
	}
	if req.Role == "docs" {
		front.Tags = []string{"role:docs"}
	}
	if req.SourceURL != "" {
		front.Source = []parser.SourceEntry{{Path: req.SourceURL}}
	}

	content, err := render(front, req.Content)
	if err != nil {
		return "", "", "", err
	}
	if err := writeFileAtomic(target, content); err != nil {
		return "", "", "", err
	}
	if _, err := e.Pipeline.IngestFile(ctx, target); err != nil {
		return "", "", "", err
	}

	if collection := firstSegment(filepath.ToSlash(req.Path)); collection != "" {
		if err := e.rebuildCollectionIndex(ctx, req.Agent, req.Model, topicDir, collection); err != nil {
			return "", "", "", err
		}
	}

	return topicID, topicSlug, target, nil
}

func firstSegment(relPath string) string {
	idx := strings.Index(relPath, "/")
	if idx < 0 {
		return ""
	}
	return relPath[:idx]
}

func ensureWithinTopic(topicDir, target string) error {
	return corpus.EnsureWithinRoot(topicDir, target)
}

// resolveOrCreateTopic applies the fuzzy topic match rule, creating the
// topic note when nothing matches.
func (e *Engine) resolveOrCreateTopic(ctx context.Context, agent, model, topic string) (id, slug string, err error) {
	titles, err := e.Store.ListTopicTitles(ctx)
	if err != nil {
		return "", "", err
	}

	if tt, ok := matchTopic(titles, topic); ok {
		return tt.ID, tt.Slug, nil
	}

	slug = slugify(topic)
	dir := e.Roots.ReferenceTopicDir(slug)
	path := filepath.Join(dir, "topic.md")
	id = newID()

	now := e.now()
	front := parser.FrontMatter{
		ID:            id,
		Title:         topic,
		Archetype:     "referencetopic",
		CreatedAt:     now,
		CreatedBy:     parser.CreatedBy{Ghost: agent, Model: model},
		TrustScore:    5,
		Version:       1,
		Status:        "active",
		LastFetchedAt: &now,
	}
	content, err := render(front, fmt.Sprintf("# %s\n", topic))
	if err != nil {
		return "", "", err
	}
	if err := writeFileAtomic(path, content); err != nil {
		return "", "", err
	}
	// Ingest mirrors the topic front matter into the topics table.
	if _, err := e.Pipeline.IngestFile(ctx, path); err != nil {
		return "", "", err
	}
	return id, slug, nil
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"

// matchTopic applies case-insensitive exact match, then substring, then
// Levenshtein distance <= 2, tie-breaking by the shortest candidate title.
func matchTopic(titles []store.TopicTitle, query string) (store.TopicTitle, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return store.TopicTitle{}, false
	}

	for _, t := range titles {
		if strings.ToLower(t.Title) == q {
			return t, true
		}
	}

	var substringMatches []store.TopicTitle
	for _, t := range titles {
		if strings.Contains(strings.ToLower(t.Title), q) {
			substringMatches = append(substringMatches, t)
		}
	}
	if len(substringMatches) > 0 {
		sort.Slice(substringMatches, func(i, j int) bool { return len(substringMatches[i].Title) < len(substringMatches[j].Title) })
		return substringMatches[0], true
	}

	var fuzzyMatches []store.TopicTitle
	for _, t := range titles {
		if levenshtein.ComputeDistance(strings.ToLower(t.Title), q) <= 2 {
			fuzzyMatches = append(fuzzyMatches, t)
		}
	}
	if len(fuzzyMatches) > 0 {
		sort.Slice(fuzzyMatches, func(i, j int) bool { return len(fuzzyMatches[i].Title) < len(fuzzyMatches[j].Title) })
		return fuzzyMatches[0], true
	}

	return store.TopicTitle{}, false
}

// rebuildCollectionIndex regenerates reference/<topic>/<collection>/index.md
// as a listing of every note currently indexed under that directory.
func (e *Engine) rebuildCollectionIndex(ctx context.Context, agent, model, topicDir, collection string) error {
	collectionDir := filepath.Join(topicDir, collection)
	indexPath := filepath.Join(collectionDir, "index.md")

	existing, err := e.Store.ListNotesInScope(ctx, []string{collectionDir})
	if err != nil {
		return err
	}

	var existingID string
	var entries []store.Note
	for _, n := range existing {
		if n.Path == indexPath {
			existingID = n.ID
			continue
		}
		entries = append(entries, n)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Title < entries[j].Title })

	id := existingID
	if id == "" {
		id = newID()
	}

	var body strings.Builder
	body.WriteString(fmt.Sprintf("# %s\n\n", collection))
	for _, n := range entries {
		rel, _ := filepath.Rel(collectionDir, n.Path)
		body.WriteString(fmt.Sprintf("- [%s](%s)\n", n.Title, filepath.ToSlash(rel)))
	}

	front := parser.FrontMatter{
		ID:         id,
		Title:      collection,
		Archetype:  "referenceindex",
		CreatedAt:  e.now(),
		CreatedBy:  parser.CreatedBy{Ghost: agent, Model: model},
		TrustScore: 5,
		Version:    1,
	}
	content, err := render(front, body.String())
	if err != nil {
		return err
	}
	if err := writeFileAtomic(indexPath, content); err != nil {
		return err
	}
	_, err = e.Pipeline.IngestFile(ctx, indexPath)
	return err
}

// ReferenceGet reads a reference file by note id.
func (e *Engine) ReferenceGet(ctx context.Context, agent, noteID string, maxChars int) (Document, error) {
	return e.KnowledgeGet(ctx, agent, noteID, maxChars)
}

// ReferenceGetByPath reads a reference file addressed as topic+path instead
// of by note id, the alternate addressing form of knowledge_get and
// reference_get. The topic resolves by slug; an unindexed or unreadable
// target is UnknownNote, like every other read miss.
func (e *Engine) ReferenceGetByPath(ctx context.Context, agent, topic, relPath string, maxChars int) (Document, error) {
	slug := slugify(topic)
	if t, ok, err := e.Store.GetTopicBySlug(ctx, slug); err != nil {
		return Document{}, err
	} else if ok {
		slug = t.TopicSlug
	}

	topicDir := e.Roots.ReferenceTopicDir(slug)
	target := filepath.Join(topicDir, filepath.FromSlash(relPath))
	if err := ensureWithinTopic(topicDir, target); err != nil {
		return Document{}, komaerr.UnknownNote(topic + "/" + relPath)
	}

	note, ok, err := e.Store.GetNoteByPath(ctx, target)
	if err != nil {
		return Document{}, err
	}
	if !ok || !readable(note, agent) {
		return Document{}, komaerr.UnknownNote(topic + "/" + relPath)
	}
	return e.loadDocument(ctx, note, maxChars)
}

// TopicList enumerates topics with staleness info.
func (e *Engine) TopicList(ctx context.Context, includeObsolete bool) ([]store.Topic, error) {
	return e.Store.ListTopics(ctx, includeObsolete)
}

// TopicSearch runs a dense/hybrid search restricted to topic notes.
func (e *Engine) TopicSearch(ctx context.Context, agent, query string) ([]search.Result, error) {
	return e.KnowledgeSearch(ctx, agent, query, []Category{CategoryTopics}, "all", "", "referencetopic")
}

// TopicUpdatePatch carries only the fields being changed.
type TopicUpdatePatch struct {
	Status     *string
	MaxAgeDays *int64
	Body       *string
	Tags       *[]string
}

// TopicUpdate patches a topic: status and max_age_days land in the note's
// front matter (the file is the authoritative store), and the re-ingest
// mirrors them back into the topics table.
func (e *Engine) TopicUpdate(ctx context.Context, agent, model, id string, patch TopicUpdatePatch) error {
	if _, ok, err := e.topicByID(ctx, id); err != nil {
		return err
	} else if !ok {
		return komaerr.UnknownNote(id)
	}

	note, ok, err := e.Store.GetNoteByID(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return komaerr.UnknownNote(id)
	}

	parsed, err := readAndParse(note.Path)
	if err != nil {
		return err
	}
	if patch.Status != nil {
		parsed.Front.Status = *patch.Status
	}
	if patch.MaxAgeDays != nil {
		parsed.Front.MaxAgeDays = *patch.MaxAgeDays
	}
	if patch.Tags != nil {
		parsed.Front.Tags = *patch.Tags
	}
	body := parsed.Body
	if patch.Body != nil {
		body = *patch.Body
	}
	parsed.Front.Version++

	content, err := render(parsed.Front, body)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(note.Path, content); err != nil {
		return err
	}
	_, err = e.Pipeline.IngestFile(ctx, note.Path)
	return err
}

func (e *Engine) topicByID(ctx context.Context, id string) (store.Topic, bool, error) {
	topics, err := e.Store.ListTopics(ctx, true)
	if err != nil {
		return store.Topic{}, false, err
	}
	for _, t := range topics {
		if t.ID == id {
			return t, true, nil
		}
	}
	return store.Topic{}, false, nil
}
