// Package watch watches the corpus filesystem for changes and feeds them
// into the ingest pipeline, debounced, with a periodic reconcile fallback
// for changes fsnotify misses.
//
// Changes are coalesced through a pending flag set by the raw filesystem
// event stream and drained by a fixed-period timer, rather than acting on
// every individual event. One Watcher covers every scope, parameterized by
// its root set, instead of running one loop per scope.
package watch

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/t-koma/knowledge/pkg/ingest"
	"github.com/t-koma/knowledge/pkg/reconcile"
)

const (
	// DebounceInterval is the delay between the first filesystem event of a
	// burst and the reconcile pass it triggers. Events arriving during that
	// window do not extend it, so the pass can start while writes continue.
	DebounceInterval = 2 * time.Second
)

// Watcher watches a fixed set of directory roots and keeps the index
// synchronized with them until its context is cancelled.
type Watcher struct {
	Pipeline         *ingest.Pipeline
	Roots            []string
	ReconcileSeconds int // periodic fallback reconcile interval; 0 disables it
	Log              *logrus.Entry

	// debounce and fallback are overridable for tests; both default when zero.
	debounce time.Duration
	fallback time.Duration
}

// Run watches until ctx is cancelled, logging and continuing past individual
// errors rather than terminating the loop.
func (w *Watcher) Run(ctx context.Context) error {
	log := w.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	for _, root := range w.Roots {
		if err := addRecursive(fsw, root); err != nil {
			log.WithError(err).WithField("root", root).Warn("watch: failed to watch root")
		}
	}

	debounce := w.debounce
	if debounce <= 0 {
		debounce = DebounceInterval
	}
	fallback := w.fallback
	if fallback <= 0 && w.ReconcileSeconds > 0 {
		fallback = time.Duration(w.ReconcileSeconds) * time.Second
	}

	r := &reconcile.Reconciler{Pipeline: w.Pipeline, Roots: w.Roots, Log: log}

	pending := false
	debounceTimer := time.NewTimer(debounce)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}

	var fallbackC <-chan time.Time
	var fallbackTicker *time.Ticker
	if fallback > 0 {
		fallbackTicker = time.NewTicker(fallback)
		defer fallbackTicker.Stop()
		fallbackC = fallbackTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !isRelevant(ev) {
				continue
			}
			// An event for a path re-arms its embedding-retry budget:
			// dropped files stay dropped until the next event for them.
			r.ResetPath(ev.Name)
			if ev.Op&fsnotify.Create != 0 {
				if fi, statErr := os.Stat(ev.Name); statErr == nil && fi.IsDir() {
					if err := addRecursive(fsw, ev.Name); err != nil {
						log.WithError(err).WithField("dir", ev.Name).Warn("watch: failed to watch new directory")
					}
				}
			}
			if !pending {
				pending = true
				debounceTimer.Reset(debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("watch: fsnotify error")

		case <-debounceTimer.C:
			if !pending {
				continue
			}
			pending = false
			if _, err := r.Run(ctx); err != nil {
				log.WithError(err).Warn("watch: debounced reconcile failed")
			}

		case <-fallbackC:
			if _, err := r.Run(ctx); err != nil {
				log.WithError(err).Warn("watch: periodic reconcile failed")
			}
		}
	}
}

func isRelevant(ev fsnotify.Event) bool {
	return ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepathWalkDirs(root, func(dir string) error {
		return fsw.Add(dir)
	})
}
