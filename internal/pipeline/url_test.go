package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"case folds scheme and host", "HTTPS://EXAMPLE.com/a?x=1", "https://example.com/a?x=1"},
		{"path case preserved", "https://example.com/Path/To", "https://example.com/Path/To"},
		{"strips default http port", "http://example.com:80/a", "http://example.com/a"},
		{"strips default https port", "https://example.com:443/a", "https://example.com/a"},
		{"keeps custom port", "https://example.com:8443/a", "https://example.com:8443/a"},
		{"strips fragment", "https://example.com/a#section", "https://example.com/a"},
		{"strips trailing slash", "https://example.com/a/", "https://example.com/a"},
		{"root slash kept", "https://example.com/", "https://example.com/"},
		{"query order preserved", "https://example.com/a?b=2&a=1", "https://example.com/a?b=2&a=1"},
		{"whitespace trimmed", "  https://example.com/a  ", "https://example.com/a"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeURLRejectsInvalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "not a url", "/relative/path", "example.com/no-scheme"} {
		_, err := NormalizeURL(in)
		require.Error(t, err, "input %q", in)
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	t.Parallel()

	first, err := NormalizeURL("HTTP://Example.COM:80/Path/?q=1#frag")
	require.NoError(t, err)
	second, err := NormalizeURL(first)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
