package target

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Example.COM":                  "example.com",
		"  example.com\n":              "example.com",
		"https://example.com/path?q=1": "example.com",
		"http://sub.example.com:8080":  "sub.example.com",
		"example.com.":                 "example.com",
	}
	for in, want := range cases {
		got, err := Normalize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "   ", "not a domain", "localhost", "exa mple.com", "-bad.example.com"} {
		_, err := Normalize(in)
		assert.Error(t, err, in)
	}
}

func TestScopeAdmits(t *testing.T) {
	s, err := NewScope([]string{`\.example\.com$`}, []string{`^internal\.`})
	require.NoError(t, err)

	assert.True(t, s.Admits("api.example.com"))
	assert.False(t, s.Admits("internal.example.com"), "exclude wins")
	assert.False(t, s.Admits("api.other.com"), "not in include")
}

func TestScopeEmptyIncludeAdmitsAll(t *testing.T) {
	s, err := NewScope(nil, []string{`^deny\.`})
	require.NoError(t, err)
	assert.True(t, s.Admits("anything.example.com"))
	assert.False(t, s.Admits("deny.example.com"))
}

func TestScopeBadPattern(t *testing.T) {
	_, err := NewScope([]string{"("}, nil)
	assert.Error(t, err)
}
