package knowledge

import (
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/t-koma/knowledge/pkg/komaerr"
	"github.com/t-koma/knowledge/pkg/parser"
)

// render serializes front matter and body back into the `+++`-delimited
// note file format. Field order is not guaranteed to match the source file;
// only the parsed values round-trip.
func render(front parser.FrontMatter, body string) ([]byte, error) {
	raw, err := toml.Marshal(front)
	if err != nil {
		return nil, komaerr.Wrap(komaerr.KindTOML, "encode front matter", err)
	}

	var out strings.Builder
	out.WriteString("+++\n")
	out.Write(raw)
	out.WriteString("+++\n")
	out.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		out.WriteString("\n")
	}
	return []byte(out.String()), nil
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// slugify lower-cases s and collapses runs of non-alphanumeric characters
// into a single hyphen, for deriving directory names from titles.
func slugify(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	slug := slugPattern.ReplaceAllString(lower, "-")
	return strings.Trim(slug, "-")
}
