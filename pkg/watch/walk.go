package watch

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// filepathWalkDirs calls fn for root and every non-hidden subdirectory under
// it, so fsnotify (which is not recursive) can watch the whole tree.
func filepathWalkDirs(root string, fn func(dir string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		return fn(path)
	})
}
