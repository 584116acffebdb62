package reconcile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MaxBaselineEntries bounds the baseline file, most recent first.
const MaxBaselineEntries = 200

// BaselineEntry records the expected URL count for a crawl job, captured from
// a preflight site map. The discovery guardrail compares the crawl's actual
// page count against it.
type BaselineEntry struct {
	JobID         string    `json:"jobId"`
	Domain        string    `json:"domain"`
	ExpectedCount int       `json:"expectedCount"`
	CreatedAt     time.Time `json:"createdAt"`
}

type baselineFile struct {
	Entries []BaselineEntry `json:"entries"`
}

// BaselineStore persists baseline entries as one bounded JSON file.
type BaselineStore struct {
	path string
	mu   sync.Mutex
}

// NewBaselineStore returns a store backed by path.
func NewBaselineStore(path string) *BaselineStore {
	return &BaselineStore{path: path}
}

// Record prepends an entry, replacing any prior entry for the same job id,
// and trims the file to MaxBaselineEntries.
func (b *BaselineStore) Record(entry BaselineEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	file, err := b.load()
	if err != nil {
		return err
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	entries := make([]BaselineEntry, 0, len(file.Entries)+1)
	entries = append(entries, entry)
	for _, e := range file.Entries {
		if e.JobID == entry.JobID {
			continue
		}
		entries = append(entries, e)
	}
	if len(entries) > MaxBaselineEntries {
		entries = entries[:MaxBaselineEntries]
	}
	file.Entries = entries
	return b.save(file)
}

// Lookup returns the entry for a job id, or false.
func (b *BaselineStore) Lookup(jobID string) (BaselineEntry, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	file, err := b.load()
	if err != nil {
		return BaselineEntry{}, false, err
	}
	for _, e := range file.Entries {
		if e.JobID == jobID {
			return e, true, nil
		}
	}
	return BaselineEntry{}, false, nil
}

func (b *BaselineStore) load() (baselineFile, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return baselineFile{}, nil
		}
		return baselineFile{}, fmt.Errorf("read baseline file: %w", err)
	}
	var file baselineFile
	if err := json.Unmarshal(data, &file); err != nil {
		// Corrupt baselines only weaken the guardrail; start fresh.
		return baselineFile{}, nil
	}
	return file, nil
}

func (b *BaselineStore) save(file baselineFile) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal baseline file: %w", err)
	}
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create baseline directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".baseline-*")
	if err != nil {
		return fmt.Errorf("create temp baseline file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp baseline file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp baseline file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp baseline file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename baseline file: %w", err)
	}
	return nil
}
