package reconcile

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "crawl-reconciliation.json"), nil)
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return ts
}

func TestReconcileSafeDelete(t *testing.T) {
	s := testStore(t)

	// Pass 1: both pages present.
	result, err := s.Reconcile(Request{
		Domain:   "d",
		SeenURLs: []string{"https://d/a", "https://d/b"},
		Now:      mustTime(t, "2026-02-01T00:00:00Z"),
	})
	require.NoError(t, err)
	assert.Empty(t, result.URLsToDelete)
	assert.Equal(t, 2, result.TrackedAfter)

	// Pass 2: b missing once, still inside the grace period.
	result, err = s.Reconcile(Request{
		Domain:   "d",
		SeenURLs: []string{"https://d/a"},
		Now:      mustTime(t, "2026-02-02T00:00:00Z"),
	})
	require.NoError(t, err)
	assert.Empty(t, result.URLsToDelete)
	assert.Equal(t, 2, result.TrackedAfter)

	// Pass 3: second consecutive miss and more than 7 days since the first.
	result, err = s.Reconcile(Request{
		Domain:   "d",
		SeenURLs: []string{"https://d/a"},
		Now:      mustTime(t, "2026-02-09T00:00:00Z"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://d/b"}, result.URLsToDelete)
	assert.Equal(t, 1, result.TrackedAfter)
}

func TestReconcileReappearanceResetsMisses(t *testing.T) {
	s := testStore(t)

	_, err := s.Reconcile(Request{
		Domain:   "d",
		SeenURLs: []string{"https://d/a", "https://d/b"},
		Now:      mustTime(t, "2026-02-01T00:00:00Z"),
	})
	require.NoError(t, err)

	_, err = s.Reconcile(Request{
		Domain:   "d",
		SeenURLs: []string{"https://d/a"},
		Now:      mustTime(t, "2026-02-02T00:00:00Z"),
	})
	require.NoError(t, err)

	// b comes back; the miss counter resets.
	_, err = s.Reconcile(Request{
		Domain:   "d",
		SeenURLs: []string{"https://d/a", "https://d/b"},
		Now:      mustTime(t, "2026-02-03T00:00:00Z"),
	})
	require.NoError(t, err)

	// Even far in the future, a single fresh miss never deletes.
	result, err := s.Reconcile(Request{
		Domain:   "d",
		SeenURLs: []string{"https://d/a"},
		Now:      mustTime(t, "2026-06-01T00:00:00Z"),
	})
	require.NoError(t, err)
	assert.Empty(t, result.URLsToDelete)
}

func TestReconcileHardSyncDeletesImmediately(t *testing.T) {
	s := testStore(t)

	_, err := s.Reconcile(Request{
		Domain:   "d",
		SeenURLs: []string{"https://d/a", "https://d/b"},
		Now:      mustTime(t, "2026-02-01T00:00:00Z"),
	})
	require.NoError(t, err)

	result, err := s.Reconcile(Request{
		Domain:   "d",
		SeenURLs: []string{"https://d/a"},
		HardSync: true,
		Now:      mustTime(t, "2026-02-01T01:00:00Z"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://d/b"}, result.URLsToDelete)
	assert.Equal(t, 1, result.TrackedAfter)
}

func TestReconcileDryRunDoesNotPersist(t *testing.T) {
	s := testStore(t)

	_, err := s.Reconcile(Request{
		Domain:   "d",
		SeenURLs: []string{"https://d/a"},
		DryRun:   true,
		Now:      mustTime(t, "2026-02-01T00:00:00Z"),
	})
	require.NoError(t, err)

	tracked, err := s.TrackedURLs("d")
	require.NoError(t, err)
	assert.Empty(t, tracked)
}

func TestReconcileSkipsNonHTTPURLs(t *testing.T) {
	s := testStore(t)

	result, err := s.Reconcile(Request{
		Domain:   "d",
		SeenURLs: []string{"https://d/a", "ftp://d/b", "not a url", "mailto:x@d"},
		Now:      mustTime(t, "2026-02-01T00:00:00Z"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Seen)
	assert.Equal(t, 1, result.TrackedAfter)
}

func TestReconcileDomainLowercased(t *testing.T) {
	s := testStore(t)

	_, err := s.Reconcile(Request{
		Domain:   "Docs.Example.COM",
		SeenURLs: []string{"https://docs.example.com/a"},
		Now:      mustTime(t, "2026-02-01T00:00:00Z"),
	})
	require.NoError(t, err)

	tracked, err := s.TrackedURLs("docs.example.com")
	require.NoError(t, err)
	assert.Len(t, tracked, 1)
}

func TestReconcileInvalidDomain(t *testing.T) {
	s := testStore(t)
	_, err := s.Reconcile(Request{Domain: "  "})
	assert.ErrorIs(t, err, ErrInvalidDomain)
}

func TestReset(t *testing.T) {
	s := testStore(t)

	_, err := s.Reconcile(Request{
		Domain:   "d",
		SeenURLs: []string{"https://d/a"},
		Now:      mustTime(t, "2026-02-01T00:00:00Z"),
	})
	require.NoError(t, err)

	require.NoError(t, s.Reset("d"))
	tracked, err := s.TrackedURLs("d")
	require.NoError(t, err)
	assert.Empty(t, tracked)
}

func TestBaselineStoreBoundedMostRecentFirst(t *testing.T) {
	b := NewBaselineStore(filepath.Join(t.TempDir(), "crawl-baselines.json"))

	for i := 0; i < MaxBaselineEntries+10; i++ {
		require.NoError(t, b.Record(BaselineEntry{
			JobID:         fmt.Sprintf("J%d", i),
			Domain:        "d",
			ExpectedCount: i,
		}))
	}

	// The oldest entries fell off the end.
	_, ok, err := b.Lookup("J0")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Record(BaselineEntry{JobID: "J-latest", Domain: "d", ExpectedCount: 7}))
	entry, ok, err := b.Lookup("J-latest")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, entry.ExpectedCount)
}

func TestBaselineStoreReplacesSameJob(t *testing.T) {
	b := NewBaselineStore(filepath.Join(t.TempDir(), "crawl-baselines.json"))

	require.NoError(t, b.Record(BaselineEntry{JobID: "J1", ExpectedCount: 5}))
	require.NoError(t, b.Record(BaselineEntry{JobID: "J1", ExpectedCount: 9}))

	entry, ok, err := b.Lookup("J1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 9, entry.ExpectedCount)
}
