// Package reconcile tracks which URLs each crawled domain still serves and
// decides when vanished pages may be deleted from the vector store. Deletion
// requires both repeated consecutive misses and an elapsed grace period, so a
// transient crawl error never wipes a domain.
package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/axonhq/axon/internal/logging"
)

const (
	// StateVersion is written to new state files.
	StateVersion = 1

	// DefaultMissingThreshold is the consecutive-miss count required before a
	// URL becomes eligible for deletion.
	DefaultMissingThreshold = 2

	// DefaultGracePeriod is the minimum elapsed time since the first miss.
	DefaultGracePeriod = 7 * 24 * time.Hour
)

// ErrInvalidDomain is returned for an empty or unparseable domain.
var ErrInvalidDomain = errors.New("reconcile: invalid domain")

// urlState tracks one URL within a domain.
type urlState struct {
	LastSeenAt         time.Time  `json:"lastSeenAt"`
	MissingConsecutive int        `json:"missingConsecutive"`
	FirstMissingAt     *time.Time `json:"firstMissingAt,omitempty"`
	LastMissingAt      *time.Time `json:"lastMissingAt,omitempty"`
}

type domainState struct {
	URLs map[string]urlState `json:"urls"`
}

type state struct {
	Version int                    `json:"version"`
	Domains map[string]domainState `json:"domains"`
}

func emptyState() state {
	return state{Version: StateVersion, Domains: make(map[string]domainState)}
}

// Request is one reconciliation pass over a domain.
type Request struct {
	Domain   string
	SeenURLs []string

	// HardSync deletes every missing URL immediately, bypassing the
	// threshold and grace period.
	HardSync bool

	// DryRun computes the result without persisting state.
	DryRun bool

	// Zero values fall back to the defaults.
	MissingThreshold int
	GracePeriod      time.Duration

	// Now overrides the clock, for tests. Zero means time.Now.
	Now time.Time
}

// Result reports one pass.
type Result struct {
	URLsToDelete  []string
	TrackedBefore int
	TrackedAfter  int
	Seen          int
}

// Store persists reconciliation state as a single JSON file with atomic
// temp-file-rename writes.
type Store struct {
	path   string
	logger *logging.Logger

	mu sync.Mutex
}

// NewStore returns a store backed by path. The file is created lazily.
func NewStore(path string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{path: path, logger: logger.Named("reconcile")}
}

// Reconcile applies one pass: URLs seen now are refreshed, URLs tracked but
// unseen accrue misses, and URLs past both the miss threshold and the grace
// period are returned for deletion and dropped from tracking.
func (s *Store) Reconcile(req Request) (Result, error) {
	domain := strings.ToLower(strings.TrimSpace(req.Domain))
	if domain == "" {
		return Result{}, fmt.Errorf("%w: empty", ErrInvalidDomain)
	}
	threshold := req.MissingThreshold
	if threshold <= 0 {
		threshold = DefaultMissingThreshold
	}
	grace := req.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	seen := make(map[string]bool, len(req.SeenURLs))
	for _, raw := range req.SeenURLs {
		canonical, ok := normalizeURL(raw)
		if !ok {
			s.logger.Warn("skipping non-http url", zap.String("url", raw))
			continue
		}
		seen[canonical] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return Result{}, err
	}

	ds, ok := st.Domains[domain]
	if !ok {
		ds = domainState{URLs: make(map[string]urlState)}
	}

	result := Result{TrackedBefore: len(ds.URLs), Seen: len(seen)}

	for u := range seen {
		ds.URLs[u] = urlState{LastSeenAt: now, MissingConsecutive: 0}
	}

	for u, us := range ds.URLs {
		if seen[u] {
			continue
		}
		if req.HardSync {
			result.URLsToDelete = append(result.URLsToDelete, u)
			delete(ds.URLs, u)
			continue
		}
		if us.FirstMissingAt == nil {
			first := now
			us.FirstMissingAt = &first
		}
		us.MissingConsecutive++
		last := now
		us.LastMissingAt = &last

		if us.MissingConsecutive >= threshold && now.Sub(*us.FirstMissingAt) >= grace {
			result.URLsToDelete = append(result.URLsToDelete, u)
			delete(ds.URLs, u)
			continue
		}
		ds.URLs[u] = us
	}

	sort.Strings(result.URLsToDelete)
	result.TrackedAfter = len(ds.URLs)
	st.Domains[domain] = ds

	if !req.DryRun {
		if err := s.save(st); err != nil {
			return Result{}, err
		}
	}

	s.logger.Debug("reconciled domain",
		zap.String("domain", domain),
		zap.Int("seen", result.Seen),
		zap.Int("tracked", result.TrackedAfter),
		zap.Int("toDelete", len(result.URLsToDelete)))
	return result, nil
}

// TrackedURLs returns the URLs currently tracked for a domain.
func (s *Store) TrackedURLs(domain string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return nil, err
	}
	ds, ok := st.Domains[strings.ToLower(domain)]
	if !ok {
		return nil, nil
	}
	urls := make([]string, 0, len(ds.URLs))
	for u := range ds.URLs {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls, nil
}

// Reset drops all tracking for one domain.
func (s *Store) Reset(domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return err
	}
	delete(st.Domains, strings.ToLower(domain))
	return s.save(st)
}

// ResetAll drops all tracking state.
func (s *Store) ResetAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(emptyState())
}

// normalizeURL canonicalizes via parse-and-rerender and restricts to http(s).
func normalizeURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	return u.String(), true
}

func (s *Store) load() (state, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return emptyState(), nil
		}
		return state{}, fmt.Errorf("read reconciliation state: %w", err)
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		// A corrupt state file means tracking restarts; safer than refusing
		// every future reconciliation.
		s.logger.Warn("reconciliation state corrupt, starting fresh", zap.Error(err))
		return emptyState(), nil
	}
	if st.Domains == nil {
		st.Domains = make(map[string]domainState)
	}
	return st, nil
}

func (s *Store) save(st state) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal reconciliation state: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".reconcile-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}
