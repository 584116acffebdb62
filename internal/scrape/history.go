package scrape

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MaxHistoryEntries bounds the job history file, most recent first.
const MaxHistoryEntries = 100

// HistoryEntry records one started scrape or crawl for `axon status`.
type HistoryEntry struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}

type historyFile struct {
	Jobs []HistoryEntry `json:"jobs"`
}

// History persists recent job ids as one bounded JSON file.
type History struct {
	path string
	mu   sync.Mutex
}

// NewHistory returns a history backed by path.
func NewHistory(path string) *History {
	return &History{path: path}
}

// Record prepends an entry and trims to MaxHistoryEntries.
func (h *History) Record(entry HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	file, err := h.load()
	if err != nil {
		return err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	file.Jobs = append([]HistoryEntry{entry}, file.Jobs...)
	if len(file.Jobs) > MaxHistoryEntries {
		file.Jobs = file.Jobs[:MaxHistoryEntries]
	}
	return h.save(file)
}

// Recent returns up to limit entries, most recent first.
func (h *History) Recent(limit int) ([]HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	file, err := h.load()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(file.Jobs) > limit {
		return file.Jobs[:limit], nil
	}
	return file.Jobs, nil
}

func (h *History) load() (historyFile, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return historyFile{}, nil
		}
		return historyFile{}, fmt.Errorf("read job history: %w", err)
	}
	var file historyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return historyFile{}, nil
	}
	return file, nil
}

func (h *History) save(file historyFile) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job history: %w", err)
	}
	dir := filepath.Dir(h.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".jobs-*")
	if err != nil {
		return fmt.Errorf("create temp history file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp history file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp history file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp history file: %w", err)
	}
	if err := os.Rename(tmpName, h.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename history file: %w", err)
	}
	return nil
}
