// Package ingest implements the single-file ingest pipeline:
// hash-gate, parse, chunk, embed, and transactionally upsert a note into
// the index.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/t-koma/knowledge/internal/store"
	"github.com/t-koma/knowledge/pkg/chunker"
	"github.com/t-koma/knowledge/pkg/corpus"
	"github.com/t-koma/knowledge/pkg/filelock"
	"github.com/t-koma/knowledge/pkg/komaerr"
	"github.com/t-koma/knowledge/pkg/parser"
)

// Embedder is the subset of embedding.Client the ingest pipeline needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error)
}

// Result describes the outcome of ingesting one file.
type Result struct {
	NoteID  string
	Skipped bool // true when content hash matched the existing index row
}

// Pipeline ingests individual files into a Store.
type Pipeline struct {
	Store     *store.Store
	Embedder  Embedder // may be nil to skip embedding (dense search disabled)
	Allowlist Allowlist
	Roots     corpus.Roots
	Locks     *filelock.Registry
	Log       *logrus.Entry
}

// IngestFile runs the full pipeline against one file on disk.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (Result, error) {
	unlock := p.Locks.Lock(path)
	defer unlock()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Disk state may drift under a concurrent delete; the
			// reconciler's orphan pass handles the resulting absence.
			return Result{}, komaerr.Wrap(komaerr.KindIO, "read note file (may have been deleted concurrently)", err)
		}
		return Result{}, komaerr.Wrap(komaerr.KindIO, "read note file", err)
	}

	hash := contentHash(raw)

	existing, ok, err := p.Store.GetNoteByPath(ctx, path)
	if err != nil {
		return Result{}, err
	}
	if ok && existing.ContentHash == hash {
		return Result{NoteID: existing.ID, Skipped: true}, nil
	}

	parsed, err := parser.Parse(string(raw))
	if err != nil {
		// Leave any existing index row intact.
		return Result{}, err
	}

	scope, owner, classified := p.Roots.Classify(path)
	if !classified {
		return Result{}, komaerr.New(komaerr.KindPathOutsideRoot, path)
	}

	archetype := parsed.Front.EffectiveArchetype()
	typeValid := p.Allowlist.Valid(archetype)

	commentsJSON := ""
	if len(parsed.Front.Comments) > 0 {
		raw, err := json.Marshal(parsed.Front.Comments)
		if err != nil {
			return Result{}, komaerr.Wrap(komaerr.KindIO, "encode comments", err)
		}
		commentsJSON = string(raw)
	}

	lastValidatedAt := ""
	if parsed.Front.LastValidatedAt != nil {
		lastValidatedAt = parsed.Front.LastValidatedAt.Format(rfc3339)
	}
	lastValidatedByGhost, lastValidatedByModel := "", ""
	if parsed.Front.LastValidatedBy != nil {
		lastValidatedByGhost = parsed.Front.LastValidatedBy.Ghost
		lastValidatedByModel = parsed.Front.LastValidatedBy.Model
	}

	version := parsed.Front.Version
	if version == 0 {
		version = 1
	}

	note := store.Note{
		ID:                   parsed.Front.ID,
		Title:                parsed.Front.Title,
		NoteType:             parsed.Front.NoteType,
		Archetype:            parsed.Front.Archetype,
		TypeValid:            typeValid,
		Path:                 path,
		Scope:                string(scope),
		OwnerGhost:           owner,
		CreatedAt:            parsed.Front.CreatedAt.Format(rfc3339),
		CreatedByGhost:       parsed.Front.CreatedBy.Ghost,
		CreatedByModel:       parsed.Front.CreatedBy.Model,
		TrustScore:           clampTrust(parsed.Front.TrustScore),
		LastValidatedAt:      lastValidatedAt,
		LastValidatedByGhost: lastValidatedByGhost,
		LastValidatedByModel: lastValidatedByModel,
		Version:              version,
		ParentID:             parsed.Front.Parent,
		CommentsJSON:         commentsJSON,
		ContentHash:          hash,
	}

	chunkOpts := chunker.DefaultOptions()
	if scope == corpus.ScopeReference && isCodeFile(path) {
		chunkOpts = chunker.CodeOptions()
	}
	splitChunks := chunker.Split(parsed.Body, chunkOpts)

	storeChunks := make([]store.Chunk, len(splitChunks))
	texts := make([]string, len(splitChunks))
	for i, c := range splitChunks {
		storeChunks[i] = store.Chunk{NoteID: note.ID, Ordinal: c.Ordinal, Text: c.Text, ByteStart: c.ByteStart, ByteEnd: c.ByteEnd}
		texts[i] = c.Text
	}

	var vectors []store.Vector
	if p.Embedder != nil && len(texts) > 0 && p.Store.Dimension() > 0 {
		embedded, err := p.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			// Embedding failures are retried by the caller (reconcile loop)
			// with backoff; this call simply fails now.
			return Result{}, err
		}
		vectors = make([]store.Vector, len(embedded))
		for i, v := range embedded {
			vectors[i] = store.Vector{NoteID: note.ID, Ordinal: i, Embedding: v}
		}
	}

	links := make([]store.Link, len(parsed.Links))
	for i, l := range parsed.Links {
		links[i] = store.Link{SourceID: note.ID, TargetTitle: l.Target, Alias: l.Alias}
	}

	// One transaction covers the note row and every dependent table, so a
	// failure partway through leaves the previous index state intact and
	// chunks never commit without their vectors.
	if err := p.Store.ApplyNoteIngest(ctx, note, storeChunks, vectors, links, parsed.Front.Tags); err != nil {
		return Result{}, err
	}

	// A topic note carries its staleness fields in front matter; mirroring
	// them into the topics table here means a rebuilt index recovers every
	// topic from the files alone.
	if scope == corpus.ScopeReference && filepath.Base(path) == "topic.md" {
		status := parsed.Front.Status
		if status == "" {
			status = "active"
		}
		lastFetched := ""
		if parsed.Front.LastFetchedAt != nil {
			lastFetched = parsed.Front.LastFetchedAt.Format(rfc3339)
		}
		topic := store.Topic{
			ID:            note.ID,
			TopicSlug:     filepath.Base(filepath.Dir(path)),
			Status:        status,
			MaxAgeDays:    parsed.Front.MaxAgeDays,
			LastFetchedAt: lastFetched,
		}
		if err := p.Store.UpsertTopic(ctx, topic); err != nil {
			return Result{}, err
		}
	}

	if p.Log != nil {
		p.Log.WithFields(logrus.Fields{"note_id": note.ID, "path": path, "scope": note.Scope}).Debug("ingested note")
	}

	return Result{NoteID: note.ID}, nil
}

func contentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func clampTrust(trust int64) int64 {
	if trust < 0 {
		return 0
	}
	if trust > 10 {
		return 10
	}
	return trust
}

func isCodeFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".md", ".markdown", ".txt":
		return false
	default:
		return ext != ""
	}
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"
