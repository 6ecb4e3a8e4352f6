package knowledge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t-koma/knowledge/pkg/parser"
)

// Front-matter field order is not preserved across a render, but every value
// must survive a parse → render → parse round trip.
func TestRenderParseRoundTrip(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	front := parser.FrontMatter{
		ID:         "note-rt",
		Title:      "Round Trip",
		Archetype:  "concept",
		CreatedAt:  at,
		CreatedBy:  parser.CreatedBy{Ghost: "aria", Model: "gpt"},
		TrustScore: 7,
		Tags:       []string{"a", "b"},
		Parent:     "parent-1",
		Version:    3,
		Comments: []parser.CommentEntry{
			{Ghost: "kai", Model: "gpt", At: at, Text: "looks right"},
		},
	}
	body := "Body with a [[Wiki Link]] inside.\n"

	raw, err := render(front, body)
	require.NoError(t, err)

	parsed, err := parser.Parse(string(raw))
	require.NoError(t, err)
	assert.Equal(t, front.ID, parsed.Front.ID)
	assert.Equal(t, front.Title, parsed.Front.Title)
	assert.Equal(t, front.Archetype, parsed.Front.Archetype)
	assert.True(t, front.CreatedAt.Equal(parsed.Front.CreatedAt))
	assert.Equal(t, front.CreatedBy, parsed.Front.CreatedBy)
	assert.Equal(t, front.TrustScore, parsed.Front.TrustScore)
	assert.Equal(t, front.Tags, parsed.Front.Tags)
	assert.Equal(t, front.Parent, parsed.Front.Parent)
	assert.Equal(t, front.Version, parsed.Front.Version)
	require.Len(t, parsed.Front.Comments, 1)
	assert.Equal(t, "looks right", parsed.Front.Comments[0].Text)
	assert.Equal(t, body, parsed.Body)
	require.Len(t, parsed.Links, 1)
	assert.Equal(t, "Wiki Link", parsed.Links[0].Target)

	again, err := render(parsed.Front, parsed.Body)
	require.NoError(t, err)
	reparsed, err := parser.Parse(string(again))
	require.NoError(t, err)
	assert.Equal(t, parsed.Front, reparsed.Front)
	assert.Equal(t, parsed.Body, reparsed.Body)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "dioxus", slugify("Dioxus"))
	assert.Equal(t, "rust-allocators", slugify("Rust Allocators"))
	assert.Equal(t, "a-b-c", slugify("  A/B::C!  "))
}
