package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t-koma/knowledge/pkg/komaerr"
)

func TestParseFrontMatterAndLinks(t *testing.T) {
	raw := `+++
id = "note-1"
title = "Test Note"
type = "Concept"
created_at = "2025-01-01T00:00:00Z"
trust_score = 5
[created_by]
ghost = "tester"
model = "test-model"
+++

This is a body with [[Link Target]] and [[Another|Alias]].
`

	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "note-1", parsed.Front.ID)
	assert.Equal(t, "Test Note", parsed.Front.Title)
	assert.Equal(t, "Concept", parsed.Front.NoteType)
	assert.Equal(t, "concept", parsed.Front.EffectiveArchetype())
	require.Len(t, parsed.Links, 2)
	assert.Equal(t, "Link Target", parsed.Links[0].Target)
	assert.Equal(t, "Alias", parsed.Links[1].Alias)
}

func TestParseArchetypeField(t *testing.T) {
	raw := `+++
id = "note-2"
title = "Person Note"
archetype = "person"
created_at = "2025-01-01T00:00:00Z"
trust_score = 5
[created_by]
ghost = "tester"
model = "test-model"
+++

Body here.
`

	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "person", parsed.Front.Archetype)
	assert.Empty(t, parsed.Front.NoteType)
	assert.Equal(t, "person", parsed.Front.EffectiveArchetype())
}

func TestParseMissingDelimiter(t *testing.T) {
	_, err := Parse("no front matter here")
	require.Error(t, err)
	assert.True(t, komaerr.Is(err, komaerr.KindInvalidFrontMatter))
}

func TestParseUnterminatedFrontMatter(t *testing.T) {
	_, err := Parse("+++\nid = \"x\"\n")
	require.Error(t, err)
	assert.True(t, komaerr.Is(err, komaerr.KindInvalidFrontMatter))
}

func TestParseMissingRequiredField(t *testing.T) {
	raw := `+++
title = "No ID"
created_at = "2025-01-01T00:00:00Z"
trust_score = 5
[created_by]
ghost = "tester"
model = "test-model"
+++
body
`
	_, err := Parse(raw)
	require.Error(t, err)
	assert.True(t, komaerr.Is(err, komaerr.KindMissingField))
}

func TestExtractLinksTrimsAndDropsEmpty(t *testing.T) {
	links := ExtractLinks("See [[ Spaced Target  ]] and [[]] and [[Real|  Alias Name ]].")
	require.Len(t, links, 2)
	assert.Equal(t, "Spaced Target", links[0].Target)
	assert.Equal(t, "Real", links[1].Target)
	assert.Equal(t, "Alias Name", links[1].Alias)
}
