package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// SourceType tags where a document came from.
type SourceType string

const (
	SourceTypeURL   SourceType = "url"
	SourceTypeFile  SourceType = "file"
	SourceTypeStdin SourceType = "stdin"
)

// ErrInvalidSourceURL is returned when a URL source is not absolute http(s).
var ErrInvalidSourceURL = errors.New("pipeline: source url must be an absolute http(s) url")

// SourceID is the stable key under which all chunks of one logical document
// live in the vector store. It is deterministic across reruns for the same
// logical source.
type SourceID struct {
	Type SourceType

	// ID is the payload url value: the URL itself, or a repo-relative path
	// for file and stdin sources.
	ID string

	// Domain is the host for URL sources and the repo name otherwise.
	Domain string
}

// SourceFromURL validates and wraps an absolute http(s) URL.
func SourceFromURL(raw string) (SourceID, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return SourceID{}, fmt.Errorf("%w: %q", ErrInvalidSourceURL, raw)
	}
	return SourceID{
		Type:   SourceTypeURL,
		ID:     raw,
		Domain: strings.ToLower(u.Hostname()),
	}, nil
}

// SourceFromFile derives a repo-relative id of the form <repoName>/<relPath>
// from the nearest enclosing version-control root. Files outside any known
// root get <repoName>/external/<basename>-<12-hex-digest-of-absolute-path>,
// so the id stays stable no matter which directory the caller ran from.
func SourceFromFile(path string) (SourceID, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return SourceID{}, fmt.Errorf("resolve %q: %w", path, err)
	}
	abs = filepath.Clean(abs)

	if root := findVCSRoot(filepath.Dir(abs)); root != "" {
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			return SourceID{}, fmt.Errorf("relativize %q against %q: %w", abs, root, err)
		}
		repo := filepath.Base(root)
		return SourceID{
			Type:   SourceTypeFile,
			ID:     repo + "/" + filepath.ToSlash(rel),
			Domain: repo,
		}, nil
	}

	repo := repoNameFromCwd()
	sum := sha256.Sum256([]byte(abs))
	return SourceID{
		Type:   SourceTypeFile,
		ID:     fmt.Sprintf("%s/external/%s-%s", repo, filepath.Base(abs), hex.EncodeToString(sum[:])[:12]),
		Domain: repo,
	}, nil
}

// stdinHashPrefix bounds how much piped content feeds the stdin digest.
const stdinHashPrefix = 64 * 1024

// SourceFromStdin derives <repoName>/stdin/<16-hex-content-digest>. Identical
// content piped from the same working directory always yields the same id.
func SourceFromStdin(content []byte) SourceID {
	prefix := content
	if len(prefix) > stdinHashPrefix {
		prefix = prefix[:stdinHashPrefix]
	}
	sum := sha256.Sum256(prefix)
	repo := repoNameFromCwd()
	return SourceID{
		Type:   SourceTypeStdin,
		ID:     fmt.Sprintf("%s/stdin/%s", repo, hex.EncodeToString(sum[:])[:16]),
		Domain: repo,
	}
}

// findVCSRoot walks up from dir looking for a version-control marker. Returns
// "" when no root encloses dir.
func findVCSRoot(dir string) string {
	for {
		for _, marker := range []string{".git", ".hg", ".svn"} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func repoNameFromCwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "external"
	}
	if root := findVCSRoot(cwd); root != "" {
		return filepath.Base(root)
	}
	return filepath.Base(cwd)
}
