package knowledge

import (
	"os"

	"github.com/t-koma/knowledge/pkg/komaerr"
	"github.com/t-koma/knowledge/pkg/parser"
)

// readAndParse reads a note file from disk and parses it. Read APIs collapse
// a missing or unreadable file to Io; the caller already verified
// access against the index before reaching disk.
func readAndParse(path string) (parser.ParsedNote, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return parser.ParsedNote{}, komaerr.Wrap(komaerr.KindIO, "read note file", err)
	}
	return parser.Parse(string(raw))
}
