package knowledge

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/t-koma/knowledge/pkg/komaerr"
	"github.com/t-koma/knowledge/pkg/parser"
)

// CaptureRequest is the input to memory_capture.
type CaptureRequest struct {
	Agent   string
	Model   string
	Payload string
	Scope   string // "shared" or any ghost scope; ghost scopes all land in the agent's private inbox
	Source  string
}

// MemoryCapture writes a timestamped file into the chosen inbox and
// synchronously ingests it.
func (e *Engine) MemoryCapture(ctx context.Context, req CaptureRequest) (noteID, path string, err error) {
	var dir string
	if req.Scope == "shared" {
		dir = e.Roots.SharedInbox()
	} else {
		dir = e.Roots.GhostInbox(req.Agent)
	}

	id := newID()
	title := captureTitle(req.Payload)
	now := e.now()
	filename := fmt.Sprintf("%s-%s.md", now.Format("20060102-150405"), slugify(title))
	path = filepath.Join(dir, filename)

	front := parser.FrontMatter{
		ID:         id,
		Title:      title,
		Archetype:  "capture",
		CreatedAt:  now,
		CreatedBy:  parser.CreatedBy{Ghost: req.Agent, Model: req.Model},
		TrustScore: 5,
		Version:    1,
	}
	if req.Source != "" {
		front.Source = []parser.SourceEntry{{Path: req.Source}}
	}

	content, err := render(front, req.Payload)
	if err != nil {
		return "", "", err
	}
	if err := writeFileAtomic(path, content); err != nil {
		return "", "", err
	}
	if _, err := e.Pipeline.IngestFile(ctx, path); err != nil {
		return "", "", err
	}
	return id, path, nil
}

func captureTitle(payload string) string {
	line := payload
	if idx := strings.IndexByte(payload, '\n'); idx >= 0 {
		line = payload[:idx]
	}
	line = strings.TrimSpace(line)
	if len(line) > 80 {
		line = line[:80]
	}
	if line == "" {
		return "Capture"
	}
	return line
}

// NoteCreateRequest is the input to note_create.
type NoteCreateRequest struct {
	ID         string // generated if empty
	Title      string
	Archetype  string
	Scope      string // shared | ghost_private | ghost_projects | ghost_diary
	Agent      string
	Model      string
	Body       string
	Tags       []string
	TrustScore int64
	Parent     string
}

// checkTrust rejects negative trust scores and clamps values above 10.
func checkTrust(trust int64) (int64, error) {
	if trust < 0 {
		return 0, komaerr.New(komaerr.KindInvalidFrontMatter, "trust_score must not be negative")
	}
	if trust > 10 {
		return 10, nil
	}
	return trust, nil
}

// checkParent verifies a parent id references an existing note the agent can
// read, so a child never points at a parent its own readers cannot see.
func (e *Engine) checkParent(ctx context.Context, agent, parentID string) error {
	if parentID == "" {
		return nil
	}
	parent, ok, err := e.Store.GetNoteByID(ctx, parentID)
	if err != nil {
		return err
	}
	if !ok || !readable(parent, agent) {
		return komaerr.UnknownNote(parentID)
	}
	return nil
}

// NoteCreate writes a new note file and ingests it, failing if the id
// already exists.
func (e *Engine) NoteCreate(ctx context.Context, req NoteCreateRequest) (noteID, path string, err error) {
	if req.Scope == "reference" {
		return "", "", komaerr.New(komaerr.KindInvalidFrontMatter, "note_create cannot target the reference scope; use reference_save")
	}

	trust, err := checkTrust(req.TrustScore)
	if err != nil {
		return "", "", err
	}
	if err := e.checkParent(ctx, req.Agent, req.Parent); err != nil {
		return "", "", err
	}

	id := req.ID
	if id == "" {
		id = newID()
	} else if _, ok, err := e.Store.GetNoteByID(ctx, id); err != nil {
		return "", "", err
	} else if ok {
		return "", "", komaerr.New(komaerr.KindInvalidFrontMatter, fmt.Sprintf("note id %q already exists", id))
	}

	dir, err := e.scopeDir(req.Scope, req.Agent)
	if err != nil {
		return "", "", err
	}
	name := slugify(req.Title)
	if name == "" {
		name = id
	}
	path = filepath.Join(dir, name+".md")

	front := parser.FrontMatter{
		ID:         id,
		Title:      req.Title,
		Archetype:  req.Archetype,
		CreatedAt:  e.now(),
		CreatedBy:  parser.CreatedBy{Ghost: req.Agent, Model: req.Model},
		TrustScore: trust,
		Tags:       req.Tags,
		Parent:     req.Parent,
		Version:    1,
	}

	content, err := render(front, req.Body)
	if err != nil {
		return "", "", err
	}
	if err := writeFileAtomic(path, content); err != nil {
		return "", "", err
	}
	if _, err := e.Pipeline.IngestFile(ctx, path); err != nil {
		return "", "", err
	}
	return id, path, nil
}

func (e *Engine) scopeDir(scope, agent string) (string, error) {
	switch scope {
	case "shared":
		return e.Roots.Shared, nil
	case "ghost_private":
		return e.Roots.GhostPrivateRoot(agent), nil
	case "ghost_projects":
		return e.Roots.GhostProjectsRoot(agent), nil
	case "ghost_diary":
		return e.Roots.GhostDiaryRoot(agent), nil
	default:
		return "", komaerr.New(komaerr.KindInvalidFrontMatter, fmt.Sprintf("unknown scope %q", scope))
	}
}

// NoteUpdatePatch carries only the fields being changed; nil means unchanged.
type NoteUpdatePatch struct {
	Title      *string
	Body       *string
	Tags       *[]string
	TrustScore *int64
	Parent     *string
}

// NoteUpdate applies a patch, bumps version, rewrites the file, and
// re-ingests. Only the note's owner, or any agent for a shared note, may
// update it.
func (e *Engine) NoteUpdate(ctx context.Context, agent, noteID string, patch NoteUpdatePatch) error {
	note, ok, err := e.Store.GetNoteByID(ctx, noteID)
	if err != nil {
		return err
	}
	if !ok {
		return komaerr.UnknownNote(noteID)
	}
	if !writable(note, agent) {
		return komaerr.AccessDenied(fmt.Sprintf("agent %q may not update note %q", agent, noteID))
	}

	parsed, err := readAndParse(note.Path)
	if err != nil {
		return err
	}

	if patch.Title != nil {
		parsed.Front.Title = *patch.Title
	}
	if patch.Tags != nil {
		parsed.Front.Tags = *patch.Tags
	}
	if patch.TrustScore != nil {
		trust, err := checkTrust(*patch.TrustScore)
		if err != nil {
			return err
		}
		parsed.Front.TrustScore = trust
	}
	if patch.Parent != nil {
		if err := e.checkParent(ctx, agent, *patch.Parent); err != nil {
			return err
		}
		parsed.Front.Parent = *patch.Parent
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

// NoteComment appends a comment entry, bumps version, and re-ingests.
// Comments are not embedded as chunks: the body is unchanged.
func (e *Engine) NoteComment(ctx context.Context, agent, model, noteID, text string) error {
	note, ok, err := e.Store.GetNoteByID(ctx, noteID)
	if err != nil {
		return err
	}
	if !ok {
		return komaerr.UnknownNote(noteID)
	}
	if !writable(note, agent) {
		return komaerr.AccessDenied(fmt.Sprintf("agent %q may not comment on note %q", agent, noteID))
	}

	parsed, err := readAndParse(note.Path)
	if err != nil {
		return err
	}
	parsed.Front.Comments = append(parsed.Front.Comments, parser.CommentEntry{
		Ghost: agent, Model: model, At: e.now(), Text: text,
	})
	parsed.Front.Version++

	content, err := render(parsed.Front, parsed.Body)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(note.Path, content); err != nil {
		return err
	}
	_, err = e.Pipeline.IngestFile(ctx, note.Path)
	return err
}

// NoteValidate sets last_validated_at/by, optionally updates trust_score,
// and bumps version.
func (e *Engine) NoteValidate(ctx context.Context, agent, model, noteID string, trustScore *int64) error {
	note, ok, err := e.Store.GetNoteByID(ctx, noteID)
	if err != nil {
		return err
	}
	if !ok {
		return komaerr.UnknownNote(noteID)
	}
	if !writable(note, agent) {
		return komaerr.AccessDenied(fmt.Sprintf("agent %q may not validate note %q", agent, noteID))
	}

	parsed, err := readAndParse(note.Path)
	if err != nil {
		return err
	}
	now := e.now()
	parsed.Front.LastValidatedAt = &now
	parsed.Front.LastValidatedBy = &parser.CreatedBy{Ghost: agent, Model: model}
	if trustScore != nil {
		trust, err := checkTrust(*trustScore)
		if err != nil {
			return err
		}
		parsed.Front.TrustScore = trust
	}
	parsed.Front.Version++

	content, err := render(parsed.Front, parsed.Body)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(note.Path, content); err != nil {
		return err
	}
	_, err = e.Pipeline.IngestFile(ctx, note.Path)
	return err
}
