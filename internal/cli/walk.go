package cli

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/t-koma/knowledge/pkg/corpus"
)

// discoverNoteFiles walks every root and returns every indexable file:
// markdown notes everywhere, plus reference files of any extension. The
// filter mirrors what pkg/reconcile discovers during a reconcile pass.
func discoverNoteFiles(corpusRoots corpus.Roots, roots []string) ([]string, error) {
	var files []string
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != root {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext == ".md" || ext == ".markdown" {
				files = append(files, path)
				return nil
			}
			if scope, _, ok := corpusRoots.Classify(path); ok && scope == corpus.ScopeReference {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
