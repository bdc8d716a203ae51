package cleaner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pagevault/ingestd/internal/pipeline"
)

func TestRegistryPreloadsBuiltins(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.Equal(t, []string{"html_text", "markdown_render", "whitespace"}, r.Names())

	_, err := r.Get("html_text")
	require.NoError(t, err)

	_, err = r.Get("nope")
	require.ErrorContains(t, err, `unknown cleaner "nope"`)
}

func TestChainDefaultsForHTML(t *testing.T) {
	t.Parallel()

	chain := NewChain(NewRegistry())
	body := []byte("<p>Hello   &amp;   world</p>")

	out, err := chain.Process(context.Background(), body, pipeline.ContentHTML, nil)
	require.NoError(t, err)
	require.Equal(t, "Hello & world", out.Text)
	require.Equal(t, []string{"html_text", "whitespace"}, out.CleanersUsed)
	require.Equal(t, len(body), out.Metadata["input_bytes"])
	require.Equal(t, len(out.Text), out.Metadata["output_bytes"])
	require.Equal(t, "html", out.Metadata["content_type"])
}

func TestChainDefaultsForUnknown(t *testing.T) {
	t.Parallel()

	chain := NewChain(NewRegistry())
	out, err := chain.Process(context.Background(), []byte("  raw   text  "), pipeline.ContentUnknown, nil)
	require.NoError(t, err)
	require.Equal(t, "raw text", out.Text)
	require.Equal(t, []string{"whitespace"}, out.CleanersUsed)
}

func TestChainExplicitCleanersOverrideDefaults(t *testing.T) {
	t.Parallel()

	chain := NewChain(NewRegistry())
	out, err := chain.Process(context.Background(), []byte("<p>keep tags</p>"), pipeline.ContentHTML, []string{"whitespace"})
	require.NoError(t, err)
	require.Equal(t, "<p>keep tags</p>", out.Text)
	require.Equal(t, []string{"whitespace"}, out.CleanersUsed)
}

func TestChainUnknownCleaner(t *testing.T) {
	t.Parallel()

	chain := NewChain(NewRegistry())
	_, err := chain.Process(context.Background(), []byte("x"), pipeline.ContentHTML, []string{"bogus"})
	require.ErrorContains(t, err, `unknown cleaner "bogus"`)
}

func TestChainRejectsBinaryContentTypes(t *testing.T) {
	t.Parallel()

	chain := NewChain(NewRegistry())
	for _, ct := range []pipeline.ContentType{pipeline.ContentPDF, pipeline.ContentImage} {
		_, err := chain.Process(context.Background(), []byte("x"), ct, nil)
		require.ErrorContains(t, err, "has no text cleaner")
	}
}

func TestChainRejectsInvalidUTF8(t *testing.T) {
	t.Parallel()

	chain := NewChain(NewRegistry())
	_, err := chain.Process(context.Background(), []byte{0xff, 0xfe, 0xfd}, pipeline.ContentHTML, nil)
	require.ErrorContains(t, err, "not valid utf-8")
}
