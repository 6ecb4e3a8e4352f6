// Package corpus resolves the on-disk layout of the knowledge corpus and
// classifies files into scopes (shared, reference, or a ghost's private
// workspace).
package corpus

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/t-koma/knowledge/pkg/komaerr"
)

const (
	KnowledgeDir = "knowledge"
	ReferenceDir = "reference"

	dataDirEnv = "T_KOMA_DATA_DIR"
)

// Scope is the ownership class of a note.
type Scope string

const (
	ScopeShared        Scope = "shared"
	ScopeGhostPrivate  Scope = "ghost_private"
	ScopeGhostProjects Scope = "ghost_projects"
	ScopeGhostDiary    Scope = "ghost_diary"
	ScopeReference     Scope = "reference"
)

// Roots holds the resolved directory tree for one engine instance.
type Roots struct {
	DataRoot  string
	Shared    string // DataRoot/knowledge
	Reference string // DataRoot/reference
	DBPath    string // Shared/index.sqlite3 unless overridden
	TypesPath string // Shared/types.toml unless overridden
}

// Overrides carries the three test-hook settings (data_root_override,
// knowledge_db_path_override, types_allowlist_path); an empty field means
// "use the default location".
type Overrides struct {
	DataRoot           string
	KnowledgeDBPath    string
	TypesAllowlistPath string
}

// Resolve computes the corpus root tree, honoring overrides first, then the
// T_KOMA_DATA_DIR environment variable, then <os.UserConfigDir()>/t-koma
// (the OS user configuration directory, e.g. ~/.config on Linux; the
// platform's separate data directory is not consulted).
func Resolve(ov Overrides) (Roots, error) {
	root := ov.DataRoot
	if root == "" {
		if envRoot := os.Getenv(dataDirEnv); envRoot != "" {
			root = envRoot
		} else {
			dir, err := os.UserConfigDir()
			if err != nil {
				return Roots{}, komaerr.Wrap(komaerr.KindMissingDataDir, "resolve OS data directory", err)
			}
			root = filepath.Join(dir, "t-koma")
		}
	}

	r := Roots{
		DataRoot:  root,
		Shared:    filepath.Join(root, KnowledgeDir),
		Reference: filepath.Join(root, ReferenceDir),
	}
	r.DBPath = ov.KnowledgeDBPath
	if r.DBPath == "" {
		r.DBPath = filepath.Join(r.Shared, "index.sqlite3")
	}
	r.TypesPath = ov.TypesAllowlistPath
	if r.TypesPath == "" {
		r.TypesPath = filepath.Join(r.Shared, "types.toml")
	}
	return r, nil
}

// SharedInbox is the shared capture inbox directory.
func (r Roots) SharedInbox() string {
	return filepath.Join(r.Shared, "inbox")
}

// GhostWorkspace returns the root workspace directory for a named ghost.
// T-KOMA stores ghost workspaces alongside the shared knowledge root.
func (r Roots) GhostWorkspace(ghost string) string {
	return filepath.Join(r.DataRoot, "ghosts", ghost)
}

func (r Roots) GhostPrivateRoot(ghost string) string {
	return filepath.Join(r.GhostWorkspace(ghost), "private_knowledge")
}

func (r Roots) GhostInbox(ghost string) string {
	return filepath.Join(r.GhostPrivateRoot(ghost), "inbox")
}

func (r Roots) GhostProjectsRoot(ghost string) string {
	return filepath.Join(r.GhostWorkspace(ghost), "projects")
}

func (r Roots) GhostDiaryRoot(ghost string) string {
	return filepath.Join(r.GhostWorkspace(ghost), "diary")
}

// ReferenceTopicDir is reference/<topic-slug>/.
func (r Roots) ReferenceTopicDir(topicSlug string) string {
	return filepath.Join(r.Reference, topicSlug)
}

// Classify determines the scope and owning ghost (if any) of a file path
// relative to the resolved roots. It returns ok=false for paths that fall
// outside every known root (e.g. BOOT.md/SOUL.md/USER.md identity files,
// which are deliberately excluded from the search corpus).
func (r Roots) Classify(path string) (scope Scope, owner string, ok bool) {
	abs := path
	if !filepath.IsAbs(abs) {
		if a, err := filepath.Abs(abs); err == nil {
			abs = a
		}
	}

	if within(abs, r.Reference) {
		return ScopeReference, "", true
	}
	if within(abs, r.Shared) {
		return ScopeShared, "", true
	}

	ghostsRoot := filepath.Join(r.DataRoot, "ghosts")
	if within(abs, ghostsRoot) {
		rel, err := filepath.Rel(ghostsRoot, abs)
		if err != nil {
			return "", "", false
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) < 2 {
			return "", "", false
		}
		ghost := parts[0]
		switch parts[1] {
		case "private_knowledge":
			return ScopeGhostPrivate, ghost, true
		case "projects":
			return ScopeGhostProjects, ghost, true
		case "diary":
			return ScopeGhostDiary, ghost, true
		default:
			return "", "", false
		}
	}

	return "", "", false
}

func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "."
}

// DiscoverAll returns every directory the reconciler/watcher should walk:
// the shared and reference roots plus every existing ghost's private,
// projects, and diary subdirectories. Ghosts are discovered by listing
// DataRoot/ghosts rather than read from any registry, since a ghost
// workspace is just a directory a caller has written to.
func (r Roots) DiscoverAll() ([]string, error) {
	roots := []string{r.Shared, r.Reference}

	ghostsRoot := filepath.Join(r.DataRoot, "ghosts")
	entries, err := os.ReadDir(ghostsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return roots, nil
		}
		return nil, komaerr.Wrap(komaerr.KindIO, "list ghost workspaces", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ghost := e.Name()
		for _, sub := range []string{
			r.GhostPrivateRoot(ghost),
			r.GhostProjectsRoot(ghost),
			r.GhostDiaryRoot(ghost),
		} {
			if fi, err := os.Stat(sub); err == nil && fi.IsDir() {
				roots = append(roots, sub)
			}
		}
	}
	return roots, nil
}

// EnsureWithinRoot returns komaerr.PathOutsideRoot if the resolved path does
// not live under root; used to reject write requests that try to escape the
// corpus (e.g. a topic slug containing "..").
func EnsureWithinRoot(root, path string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return komaerr.Wrap(komaerr.KindIO, "resolve root", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return komaerr.Wrap(komaerr.KindIO, "resolve path", err)
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return komaerr.PathOutsideRoot(path)
	}
	return nil
}
