package ingest

import (
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/t-koma/knowledge/pkg/komaerr"
)

// Allowlist is the set of recognized archetype values loaded from
// types.toml. A missing file is treated as an empty
// allowlist — every archetype is then marked type_valid=false but still
// indexed, so unknown types stay searchable and are merely flagged.
type Allowlist struct {
	archetypes map[string]bool
}

type allowlistFile struct {
	Archetypes []string `toml:"archetypes"`
}

// LoadAllowlist reads and lower-cases every entry in path's `archetypes`
// array. A non-existent file yields an empty, always-invalid allowlist.
func LoadAllowlist(path string) (Allowlist, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Allowlist{archetypes: map[string]bool{}}, nil
		}
		return Allowlist{}, komaerr.Wrap(komaerr.KindIO, "read types allowlist", err)
	}

	var f allowlistFile
	if err := toml.Unmarshal(raw, &f); err != nil {
		return Allowlist{}, komaerr.Wrap(komaerr.KindTOML, "decode types allowlist", err)
	}

	set := make(map[string]bool, len(f.Archetypes))
	for _, a := range f.Archetypes {
		set[strings.ToLower(a)] = true
	}
	return Allowlist{archetypes: set}, nil
}

// Valid reports whether archetype (already lower-cased by the caller via
// parser.FrontMatter.EffectiveArchetype) is in the allowlist. An empty
// allowlist (no types.toml present) accepts nothing, matching the "unknown
// types are stored with type_valid=false" behavior without requiring every
// deployment to ship a types.toml.
func (a Allowlist) Valid(archetype string) bool {
	if archetype == "" {
		return false
	}
	return a.archetypes[strings.ToLower(archetype)]
}
