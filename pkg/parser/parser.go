// Package parser reads a Markdown note with TOML front matter into a typed
// record and extracts wiki-links from its body. The parser is
// pure: it performs no I/O beyond the bytes handed to it.
package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/t-koma/knowledge/pkg/komaerr"
)

// CreatedBy identifies the ghost and model responsible for a note or comment.
type CreatedBy struct {
	Ghost string `toml:"ghost"`
	Model string `toml:"model"`
}

// SourceEntry records an originating file this note was derived from.
type SourceEntry struct {
	Path     string `toml:"path"`
	Checksum string `toml:"checksum,omitempty"`
}

// CommentEntry is one entry in a note's comment thread.
type CommentEntry struct {
	Ghost string    `toml:"ghost"`
	Model string    `toml:"model"`
	At    time.Time `toml:"at"`
	Text  string    `toml:"text"`
}

// FrontMatter is the decoded TOML header of a note file.
type FrontMatter struct {
	ID        string    `toml:"id"`
	Title     string    `toml:"title"`
	Archetype string    `toml:"archetype,omitempty"`
	// NoteType is the legacy `type` field, preferred over Archetype only
	// when Archetype is absent.
	NoteType        string         `toml:"type,omitempty"`
	CreatedAt       time.Time      `toml:"created_at"`
	CreatedBy       CreatedBy      `toml:"created_by"`
	TrustScore      int64          `toml:"trust_score"`
	LastValidatedAt *time.Time     `toml:"last_validated_at,omitempty"`
	LastValidatedBy *CreatedBy     `toml:"last_validated_by,omitempty"`
	Comments        []CommentEntry `toml:"comments,omitempty"`
	Parent          string         `toml:"parent,omitempty"`
	Tags            []string       `toml:"tags,omitempty"`
	Source          []SourceEntry  `toml:"source,omitempty"`
	Version         int64          `toml:"version,omitempty"`

	// Status, MaxAgeDays, and LastFetchedAt only appear on ReferenceTopic
	// notes; ingest mirrors them into the topics table so a rebuilt index
	// recovers topic staleness from the files alone.
	Status        string     `toml:"status,omitempty"`
	MaxAgeDays    int64      `toml:"max_age_days,omitempty"`
	LastFetchedAt *time.Time `toml:"last_fetched_at,omitempty"`
}

// EffectiveArchetype resolves the archetype field: Archetype takes
// precedence; a legacy NoteType falls back, lower-cased.
func (f FrontMatter) EffectiveArchetype() string {
	if f.Archetype != "" {
		return f.Archetype
	}
	if f.NoteType != "" {
		return strings.ToLower(f.NoteType)
	}
	return ""
}

// WikiLink is one `[[target]]` or `[[target|alias]]` reference in a body.
type WikiLink struct {
	Target string
	Alias  string // empty when no alias given
}

// ParsedNote is the result of a successful parse.
type ParsedNote struct {
	Front FrontMatter
	Body  string
	Links []WikiLink
}

var linkPattern = regexp.MustCompile(`\[\[([^\]|]+)(?:\|([^\]]+))?\]\]`)

// quotedTimestamp matches a date-time key whose RFC 3339 value is written as
// a quoted string instead of a TOML datetime literal.
var quotedTimestamp = regexp.MustCompile(`(?m)^([ \t]*(?:created_at|last_validated_at|last_fetched_at|at)[ \t]*=[ \t]*)"(\d{4}-\d{2}-\d{2}[Tt ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:[Zz]|[+-]\d{2}:\d{2})?)"`)

// Parse splits raw bytes into TOML front matter and body, decodes the front
// matter, validates required fields, and extracts wiki-links from the body.
// Date-time fields are accepted as TOML datetimes or as quoted RFC 3339
// strings.
func Parse(raw string) (ParsedNote, error) {
	frontRaw, body, err := splitFrontMatter(raw)
	if err != nil {
		return ParsedNote{}, err
	}
	frontRaw = quotedTimestamp.ReplaceAllString(frontRaw, "${1}${2}")

	var front FrontMatter
	if err := toml.Unmarshal([]byte(frontRaw), &front); err != nil {
		return ParsedNote{}, komaerr.Wrap(komaerr.KindTOML, "decode front matter", err)
	}

	if strings.TrimSpace(front.ID) == "" {
		return ParsedNote{}, komaerr.MissingField("id")
	}
	if strings.TrimSpace(front.Title) == "" {
		return ParsedNote{}, komaerr.MissingField("title")
	}
	if front.CreatedAt.IsZero() {
		return ParsedNote{}, komaerr.MissingField("created_at")
	}
	if strings.TrimSpace(front.CreatedBy.Ghost) == "" {
		return ParsedNote{}, komaerr.MissingField("created_by.ghost")
	}
	if strings.TrimSpace(front.CreatedBy.Model) == "" {
		return ParsedNote{}, komaerr.MissingField("created_by.model")
	}

	return ParsedNote{
		Front: front,
		Body:  body,
		Links: ExtractLinks(body),
	}, nil
}

// splitFrontMatter divides raw text on its `+++` delimiters.
func splitFrontMatter(raw string) (front string, body string, err error) {
	trimmed := strings.TrimLeft(raw, " \t\r\n")
	if !strings.HasPrefix(trimmed, "+++") {
		return "", "", komaerr.New(komaerr.KindInvalidFrontMatter, "missing TOML front matter delimiter")
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) == 0 {
		return "", "", komaerr.New(komaerr.KindInvalidFrontMatter, "empty front matter")
	}

	var frontLines []string
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "+++" {
			front = strings.Join(frontLines, "\n")
			body = strings.Join(lines[i+1:], "\n")
			return front, body, nil
		}
		frontLines = append(frontLines, lines[i])
	}

	return "", "", komaerr.New(komaerr.KindInvalidFrontMatter, "unterminated front matter")
}

// ExtractLinks pulls every `[[target]]` / `[[target|alias]]` reference out of
// a note body. Target whitespace is trimmed; empty targets are discarded.
func ExtractLinks(body string) []WikiLink {
	matches := linkPattern.FindAllStringSubmatch(body, -1)
	links := make([]WikiLink, 0, len(matches))
	for _, m := range matches {
		target := strings.TrimSpace(m[1])
		if target == "" {
			continue
		}
		alias := ""
		if len(m) > 2 {
			alias = strings.TrimSpace(m[2])
		}
		links = append(links, WikiLink{Target: target, Alias: alias})
	}
	return links
}
