package store

import (
	"strings"

	"github.com/t-koma/knowledge/pkg/parser"
)

// Note mirrors the notes table.
type Note struct {
	ID                   string
	Title                string
	NoteType             string
	Archetype            string
	TypeValid            bool
	Path                 string
	Scope                string
	OwnerGhost           string // empty for shared/reference
	CreatedAt            string // RFC3339
	CreatedByGhost       string
	CreatedByModel       string
	TrustScore           int64
	LastValidatedAt      string
	LastValidatedByGhost string
	LastValidatedByModel string
	Version              int64
	ParentID             string
	CommentsJSON         string // JSON-encoded []parser.CommentEntry
	ContentHash          string
}

// EffectiveArchetype mirrors parser.FrontMatter.EffectiveArchetype for a
// stored row: Archetype takes precedence, else NoteType lower-cased.
func (n Note) EffectiveArchetype() string {
	if n.Archetype != "" {
		return n.Archetype
	}
	return strings.ToLower(n.NoteType)
}

// Chunk mirrors note_chunks.
type Chunk struct {
	NoteID    string
	Ordinal   int
	Text      string
	ByteStart int
	ByteEnd   int
}

// Vector is one dense-vector row in note_vectors.
type Vector struct {
	NoteID    string
	Ordinal   int
	Embedding []float32
}

// Link mirrors the links table.
type Link struct {
	SourceID    string
	TargetTitle string
	TargetID    string // empty when unresolved
	Alias       string
}

// Topic mirrors the topics table.
type Topic struct {
	ID            string
	TopicSlug     string
	Status        string // active | stale | obsolete
	MaxAgeDays    int64
	LastFetchedAt string
}

// Comments decodes CommentsJSON, treating an empty string as no comments.
func (n Note) Comments() ([]parser.CommentEntry, error) {
	return decodeComments(n.CommentsJSON)
}
