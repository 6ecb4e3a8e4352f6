// Package reconcile walks the corpus on disk and brings the index back in
// sync with it: re-ingesting changed files and deleting notes whose backing
// file has disappeared.
package reconcile

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/t-koma/knowledge/pkg/corpus"
	"github.com/t-koma/knowledge/pkg/ingest"
	"github.com/t-koma/knowledge/pkg/komaerr"
)

// Result summarizes one reconcile pass.
type Result struct {
	Ingested int
	Skipped  int
	Deleted  int
	Errors   []error
}

// Reconciler walks a fixed set of corpus roots and reconciles them against
// the index. It shares its Pipeline's filelock.Registry with the live
// ingest path (watcher, write API) so a reconcile pass and a concurrent
// write on the same file linearize.
type Reconciler struct {
	Pipeline *ingest.Pipeline
	Roots    []string // absolute directory roots to walk
	Log      *logrus.Entry

	retryMu sync.Mutex
	retries map[string]*retryState
}

// retryState tracks embedding-failure backoff for one file: after each
// failed attempt the file is held back until nextAt, and after maxAttempts
// it is dropped until ResetPath clears it on the next watcher event.
type retryState struct {
	attempts int
	nextAt   time.Time
}

const maxEmbedAttempts = 3

// embedBackoff is the per-attempt delay before a failed embedding ingest is
// retried.
var embedBackoff = []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}

// ResetPath clears a file's embedding-retry backoff so the next reconcile
// attempts it again; the watcher calls this for every event path.
func (r *Reconciler) ResetPath(path string) {
	r.retryMu.Lock()
	defer r.retryMu.Unlock()
	delete(r.retries, path)
}

// shouldAttempt reports whether a file is currently eligible for ingest,
// honoring any backoff from earlier embedding failures.
func (r *Reconciler) shouldAttempt(path string, now time.Time) bool {
	r.retryMu.Lock()
	defer r.retryMu.Unlock()
	st, ok := r.retries[path]
	if !ok {
		return true
	}
	if st.attempts >= maxEmbedAttempts {
		return false
	}
	return !now.Before(st.nextAt)
}

// recordOutcome updates the retry state after an ingest attempt: success
// clears it, an embedding-subsystem failure arms the next backoff step.
func (r *Reconciler) recordOutcome(path string, err error, now time.Time) {
	r.retryMu.Lock()
	defer r.retryMu.Unlock()
	if err == nil {
		delete(r.retries, path)
		return
	}
	if !komaerr.Is(err, komaerr.KindEmbedding) && !komaerr.Is(err, komaerr.KindHTTP) {
		return
	}
	if r.retries == nil {
		r.retries = make(map[string]*retryState)
	}
	st, ok := r.retries[path]
	if !ok {
		st = &retryState{}
		r.retries[path] = st
	}
	if st.attempts < len(embedBackoff) {
		st.nextAt = now.Add(embedBackoff[st.attempts])
	}
	st.attempts++
}

// maxConcurrentIngests bounds the errgroup fan-out below Run so a reconcile
// pass over a large corpus never opens more concurrent SQLite connections
// than the store's pool allows.
const maxConcurrentIngests = 4

// Run walks every root, ingesting every indexable file found and deleting any
// indexed note under these roots whose file no longer exists. Idempotent: a
// pass over an unchanged corpus ingests nothing (besides hash-gated skips)
// and deletes nothing. Files are discovered walk by
// walk but ingested concurrently across roots via an errgroup, since each
// file's ingest acquires its own per-path lock and is otherwise independent.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	var mu sync.Mutex
	var result Result
	now := time.Now()

	discovered := make(map[string]bool)
	var paths []string
	for _, root := range r.Roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				result.Errors = append(result.Errors, err)
				return nil
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != root {
					return filepath.SkipDir
				}
				return nil
			}
			if r.isIndexable(path) {
				discovered[path] = true
				if r.shouldAttempt(path, now) {
					paths = append(paths, path)
				}
			}
			return nil
		})
		if err != nil {
			result.Errors = append(result.Errors, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentIngests)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			res, err := r.Pipeline.IngestFile(gctx, path)
			r.recordOutcome(path, err, time.Now())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if r.Log != nil {
					r.Log.WithError(err).WithField("path", path).Warn("reconcile: failed to ingest file")
				}
				result.Errors = append(result.Errors, err)
				return nil
			}
			if res.Skipped {
				result.Skipped++
			} else {
				result.Ingested++
			}
			return nil
		})
	}
	// g.Go bodies never return a non-nil error (failures are recorded in
	// result.Errors instead), so Wait returns nil; a cancelled ctx shows up
	// as per-file errors and then as the error of the orphan-pass query.
	if err := g.Wait(); err != nil {
		return result, err
	}

	// Orphan pass keys on the file paths seen during the walk, not on
	// successfully-ingested note ids: a file that exists but failed ingest
	// keeps its existing index row.
	existing, err := r.Pipeline.Store.ListNotesInScope(ctx, r.Roots)
	if err != nil {
		return result, err
	}
	for _, n := range existing {
		if discovered[n.Path] {
			continue
		}
		if err := r.Pipeline.Store.DeleteNoteCascade(ctx, n.ID); err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Deleted++
		if r.Log != nil {
			r.Log.WithField("note_id", n.ID).Info("reconcile: removed orphaned note")
		}
	}

	return result, nil
}

// isIndexable mirrors the file set ingest can index: markdown notes
// everywhere, plus reference files of any extension (reference_save accepts
// arbitrary paths, e.g. src/lib.rs, and those files are first-class index
// entries). Anything outside that set must stay out of the discovered set,
// and equally must never be ingested or orphan-deleted.
func (r *Reconciler) isIndexable(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".md" || ext == ".markdown" {
		return true
	}
	scope, _, ok := r.Pipeline.Roots.Classify(path)
	return ok && scope == corpus.ScopeReference
}
