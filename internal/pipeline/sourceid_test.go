package pipeline

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceFromURL(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantError bool
		domain    string
	}{
		{name: "https", input: "https://docs.example.com/auth", domain: "docs.example.com"},
		{name: "http", input: "http://example.com", domain: "example.com"},
		{name: "uppercase host lowered", input: "https://Docs.Example.COM/x", domain: "docs.example.com"},
		{name: "relative", input: "/just/a/path", wantError: true},
		{name: "ftp", input: "ftp://example.com/file", wantError: true},
		{name: "empty", input: "", wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := SourceFromURL(tt.input)
			if tt.wantError {
				assert.ErrorIs(t, err, ErrInvalidSourceURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, SourceTypeURL, src.Type)
			assert.Equal(t, tt.input, src.ID)
			assert.Equal(t, tt.domain, src.Domain)
		})
	}
}

func TestSourceFromFileInsideRepo(t *testing.T) {
	root := t.TempDir()
	repo := filepath.Join(root, "repoA")
	require.NoError(t, os.MkdirAll(filepath.Join(repo, ".git"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(repo, "docs", "design"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(repo, "packages", "cli"), 0o755))
	file := filepath.Join(repo, "docs", "design", "auth.md")
	require.NoError(t, os.WriteFile(file, []byte("# Auth\n"), 0o644))

	direct, err := SourceFromFile(file)
	require.NoError(t, err)
	assert.Equal(t, "repoA/docs/design/auth.md", direct.ID)
	assert.Equal(t, SourceTypeFile, direct.Type)
	assert.Equal(t, "repoA", direct.Domain)

	// The same file reached through a dotted relative path resolves to the
	// same id.
	dotted, err := SourceFromFile(filepath.Join(repo, "packages", "cli", "..", "..", "docs", "design", "auth.md"))
	require.NoError(t, err)
	assert.Equal(t, direct.ID, dotted.ID)
}

func TestSourceFromFileOutsideRepo(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0o644))

	first, err := SourceFromFile(file)
	require.NoError(t, err)
	again, err := SourceFromFile(file)
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Regexp(t, regexp.MustCompile(`^[^/]+/external/notes\.md-[0-9a-f]{12}$`), first.ID)
}

func TestSourceFromStdinDeterministic(t *testing.T) {
	a := SourceFromStdin([]byte("piped content"))
	b := SourceFromStdin([]byte("piped content"))
	c := SourceFromStdin([]byte("different content"))

	assert.Equal(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
	assert.Equal(t, SourceTypeStdin, a.Type)
	assert.Regexp(t, regexp.MustCompile(`^[^/]+/stdin/[0-9a-f]{16}$`), a.ID)
}
