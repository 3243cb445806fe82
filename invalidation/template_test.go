package invalidation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		in     string
		params []string
		ok     bool
	}{
		{in: "{actor}", params: []string{"actor"}, ok: true},
		{in: "from-{actor}", params: []string{"actor"}, ok: true},
		{in: "{a}-{b}:x", params: []string{"a", "b"}, ok: true},
		{in: "static", ok: true},
		{in: "*", ok: true},
		{in: ""},
		{in: "{}"},
		{in: "{open"},
		{in: "close}"},
		{in: "a}{b"},
		{in: "{a{b}"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			tmpl, err := ParseKey(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.in, tmpl.String())
			assert.Equal(t, tt.params, tmpl.Params())
		})
	}
}

func TestMustKeyPanics(t *testing.T) {
	assert.Panics(t, func() { MustKey("{") })
}

func TestExpand(t *testing.T) {
	params := map[string][]string{
		"actor":   {"42"},
		"chatIds": {"c1", "c2"},
		"side":    {"from", "to"},
		"none":    {},
	}

	tests := []struct {
		tmpl string
		want []string
	}{
		{"{actor}", []string{"42"}},
		{"to-{actor}", []string{"to-42"}},
		{"{chatIds}", []string{"c1", "c2"}},
		{"{side}-{chatIds}", []string{"from-c1", "from-c2", "to-c1", "to-c2"}},
		{"{none}", []string{}},
		{"fixed", []string{"fixed"}},
		{"*", []string{"*"}},
	}
	for _, tt := range tests {
		t.Run(tt.tmpl, func(t *testing.T) {
			keys, err := MustKey(tt.tmpl).Expand(params)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, keys)
		})
	}
}

func TestExpandMissingParam(t *testing.T) {
	_, err := MustKey("from-{actor}").Expand(map[string][]string{"other": {"1"}})
	assert.ErrorIs(t, err, ErrMissingParam)
}

func TestExpandSkipsEmptyValues(t *testing.T) {
	keys, err := MustKey("{ids}").Expand(map[string][]string{"ids": {"", "7", ""}})
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, keys)
}

func TestWholeRegionTemplate(t *testing.T) {
	tmpl := MustKey("*")
	assert.True(t, tmpl.Whole())
	assert.Empty(t, tmpl.Params())
	assert.False(t, MustKey("{a}").Whole())
}
