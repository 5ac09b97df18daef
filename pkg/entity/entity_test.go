package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"Iron Kingdom":   "iron-kingdom",
		"  St. Maren  ":  "st-maren",
		"Jean-Luc":       "jean-luc",
		"O'Brien's Keep": "o-brien-s-keep",
		"...":            "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slug(in), "input %q", in)
	}
}

func TestParseID(t *testing.T) {
	typ, slug, err := ParseID("character:aldric")
	require.NoError(t, err)
	assert.Equal(t, "character", typ)
	assert.Equal(t, "aldric", slug)

	for _, bad := range []string{"no-colon", ":aldric", "character:", ""} {
		_, _, err := ParseID(bad)
		assert.Error(t, err, "id %q", bad)
	}
}

func TestDecodeDefaultsAndStrictness(t *testing.T) {
	e, err := Decode([]byte(`{"id":"place:ashford","type":"place","name":"Ashford"}`))
	require.NoError(t, err)
	assert.NotNil(t, e.Aliases)
	assert.NotNil(t, e.Tags)
	assert.NotNil(t, e.Fields)

	_, err = Decode([]byte(`{"type":"place","name":"Ashford"}`))
	assert.Error(t, err, "missing id")
	_, err = Decode([]byte(`{"id":"place:ashford","name":"Ashford"}`))
	assert.Error(t, err, "missing type")
}

func TestHashTracksContent(t *testing.T) {
	a := &Entity{ID: "place:ashford", Type: "place", Name: "Ashford"}
	b := &Entity{ID: "place:ashford", Type: "place", Name: "Ashford"}
	assert.Equal(t, Hash(a), Hash(b))

	b.Prose = "A river town."
	assert.NotEqual(t, Hash(a), Hash(b))
}
