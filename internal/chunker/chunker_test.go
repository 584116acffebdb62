package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEmptyInput(t *testing.T) {
	assert.Nil(t, Split("", DefaultOptions()))
	assert.Nil(t, Split("   \n\t\n  ", DefaultOptions()))
}

func TestSplitSingleHeadedSection(t *testing.T) {
	text := "# Auth\n\nUse bearer tokens via the `Authorization` header."

	chunks := Split(text, DefaultOptions())
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 1, chunks[0].TotalChunks)
	assert.Equal(t, "Auth", chunks[0].Header)
	assert.Contains(t, chunks[0].Text, "Use bearer tokens")
}

func TestSplitHeaderAssignment(t *testing.T) {
	text := strings.Join([]string{
		"intro paragraph before any heading, long enough to stand on its own.",
		"",
		"# First",
		"",
		"first section body with plenty of characters to avoid the merge pass.",
		"",
		"## Second",
		"",
		"second section body with plenty of characters to avoid the merge pass.",
	}, "\n")

	chunks := Split(text, DefaultOptions())
	require.NotEmpty(t, chunks)

	headers := map[string]bool{}
	for _, c := range chunks {
		headers[c.Header] = true
	}
	assert.True(t, headers[""], "preamble keeps an empty header")
	assert.True(t, headers["First"])
	assert.True(t, headers["Second"])
}

func TestSplitIndexingInvariant(t *testing.T) {
	var parts []string
	for i := 0; i < 8; i++ {
		parts = append(parts, strings.Repeat("lorem ipsum dolor sit amet ", 4))
	}
	text := strings.Join(parts, "\n\n")

	chunks := Split(text, DefaultOptions())
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, len(chunks), c.TotalChunks)
		assert.NotEmpty(t, c.Text)
	}
}

func TestSplitSizeLaw(t *testing.T) {
	opts := DefaultOptions()
	text := strings.Repeat("abcdefghij", 500) // one 5000-byte paragraph

	chunks := Split(text, opts)
	require.True(t, len(chunks) > 1)
	for i, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), opts.MaxChunkSize, "chunk %d too large", i)
		if i < len(chunks)-1 {
			assert.GreaterOrEqual(t, len(c.Text), opts.MinChunkSize, "non-final chunk %d too small", i)
		}
	}
}

func TestSplitOverlapRepeatsTrailingContext(t *testing.T) {
	opts := Options{MaxChunkSize: 100, TargetChunkSize: 60, Overlap: 10, MinChunkSize: 5}
	text := strings.Repeat("0123456789", 20) // one 200-byte paragraph

	chunks := Split(text, opts)
	require.True(t, len(chunks) >= 2)
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Text
		tail := prev[len(prev)-opts.Overlap:]
		assert.True(t, strings.HasPrefix(chunks[i].Text, tail), "chunk %d does not start with previous tail", i)
	}
}

func TestSplitCoverage(t *testing.T) {
	paragraphs := []string{
		"the quick brown fox jumps over the lazy dog in the first paragraph",
		"a second paragraph mentions completely different subject matter here",
		"and a third paragraph closes the document with its own vocabulary",
	}
	text := strings.Join(paragraphs, "\n\n")

	chunks := Split(text, DefaultOptions())
	joined := ""
	for _, c := range chunks {
		joined += c.Text + "\n\n"
	}
	for _, p := range paragraphs {
		assert.Contains(t, joined, p)
	}
}

func TestSplitMergesShortChunks(t *testing.T) {
	text := "ab\n\ncd"

	chunks := Split(text, DefaultOptions())
	require.Len(t, chunks, 1)
	assert.Equal(t, "ab\n\ncd", chunks[0].Text)
}

func TestSplitKeepsShortChunkNoNeighborCanAbsorb(t *testing.T) {
	opts := Options{MaxChunkSize: 100, TargetChunkSize: 80, Overlap: 10, MinChunkSize: 20}
	big := strings.Repeat("a", 99)
	text := big + "\n\ntiny\n\n" + big

	chunks := Split(text, opts)
	require.Len(t, chunks, 3)
	assert.Equal(t, "tiny", chunks[1].Text)
	for i, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), opts.MaxChunkSize, "chunk %d too large", i)
	}
}

func TestSplitShortHeadingLineMergesForward(t *testing.T) {
	text := "# API\n\nshort\n\nthis is a longer paragraph that easily clears the minimum chunk size bound."

	chunks := Split(text, DefaultOptions())
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Equal(t, "API", c.Header)
	}
	// The heading line itself survives somewhere in the output.
	joined := ""
	for _, c := range chunks {
		joined += c.Text + "\n"
	}
	assert.Contains(t, joined, "# API")
}

func TestSplitDeterministic(t *testing.T) {
	text := "# A\n\n" + strings.Repeat("deterministic content ", 100)
	a := Split(text, DefaultOptions())
	b := Split(text, DefaultOptions())
	assert.Equal(t, a, b)
}

func TestSplitNoHeadings(t *testing.T) {
	text := "just one plain paragraph with no markdown headings anywhere in sight"
	chunks := Split(text, DefaultOptions())
	require.Len(t, chunks, 1)
	assert.Equal(t, "", chunks[0].Header)
	assert.Equal(t, text, chunks[0].Text)
}
