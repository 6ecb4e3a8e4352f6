// Package komaerr defines the knowledge engine's error-kind sum type.
//
// The store, parser, embedding, ingest, and knowledge packages report
// failures as a *komaerr.Error wrapping an underlying cause, so callers can
// switch on Kind with errors.As instead of string-matching messages.
// Configuration loading and the watcher's fsnotify setup return their
// library errors unwrapped.
package komaerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for callers that need to branch on failure mode
// (retry, surface to the agent as UnknownNote, roll back a transaction, ...).
type Kind int

const (
	KindUnknown Kind = iota
	KindMissingDataDir
	KindIO
	KindTOML
	KindSQL
	KindMigrate
	KindSqliteVec
	KindHTTP
	KindEmbedding
	KindEmbeddingDimMismatch
	KindInvalidFrontMatter
	KindMissingField
	KindUnsupportedLanguage
	KindUnknownNote
	KindPathOutsideRoot
	KindAccessDenied
)

func (k Kind) String() string {
	switch k {
	case KindMissingDataDir:
		return "missing_data_dir"
	case KindIO:
		return "io"
	case KindTOML:
		return "toml"
	case KindSQL:
		return "sql"
	case KindMigrate:
		return "migrate"
	case KindSqliteVec:
		return "sqlite_vec"
	case KindHTTP:
		return "http"
	case KindEmbedding:
		return "embedding"
	case KindEmbeddingDimMismatch:
		return "embedding_dim_mismatch"
	case KindInvalidFrontMatter:
		return "invalid_front_matter"
	case KindMissingField:
		return "missing_field"
	case KindUnsupportedLanguage:
		return "unsupported_language"
	case KindUnknownNote:
		return "unknown_note"
	case KindPathOutsideRoot:
		return "path_outside_root"
	case KindAccessDenied:
		return "access_denied"
	default:
		return "unknown"
	}
}

// Error is the engine's single error type, tagged with a Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a bare Error of the given kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an Error of the given kind around an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// MissingField builds the MissingField kind for a named front-matter field.
func MissingField(field string) *Error {
	return New(KindMissingField, fmt.Sprintf("missing required field %q", field))
}

// EmbeddingDimMismatch builds the dimension-mismatch error with both sizes.
func EmbeddingDimMismatch(expected, actual int) *Error {
	return New(KindEmbeddingDimMismatch, fmt.Sprintf("expected dimension %d, got %d", expected, actual))
}

// UnknownNote builds the UnknownNote error for a given identifier.
// Used both for genuinely absent notes and for access-denied reads, so
// that the engine never leaks the existence of a note the caller cannot see.
func UnknownNote(ref string) *Error {
	return New(KindUnknownNote, fmt.Sprintf("unknown note: %s", ref))
}

// AccessDenied builds the AccessDenied error; callers on the write path use
// this directly, but read paths should prefer UnknownNote.
func AccessDenied(msg string) *Error {
	return New(KindAccessDenied, msg)
}

// PathOutsideRoot builds the PathOutsideRoot error for a resolved path.
func PathOutsideRoot(path string) *Error {
	return New(KindPathOutsideRoot, fmt.Sprintf("path escapes corpus root: %s", path))
}
