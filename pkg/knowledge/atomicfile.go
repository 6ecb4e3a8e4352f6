package knowledge

import (
	"os"
	"path/filepath"

	"github.com/t-koma/knowledge/pkg/komaerr"
)

// writeFileAtomic writes content to path via a temp file in the same
// directory, fsync, then rename: a crash before rename leaves the corpus
// untouched; a crash after rename but before ingest leaves the file for the
// next reconcile to pick up.
func writeFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return komaerr.Wrap(komaerr.KindIO, "create note directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return komaerr.Wrap(komaerr.KindIO, "create temp file", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return komaerr.Wrap(komaerr.KindIO, "write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return komaerr.Wrap(komaerr.KindIO, "fsync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return komaerr.Wrap(komaerr.KindIO, "close temp file", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return komaerr.Wrap(komaerr.KindIO, "rename temp file into place", err)
	}
	return nil
}
