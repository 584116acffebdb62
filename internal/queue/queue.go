// Package queue is the durable embed-job queue: one JSON file per job under a
// queue directory. It is the only coordination channel between the foreground
// CLI and the background embedder.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/axonhq/axon/internal/logging"
)

// Status is the job lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status will never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	// ErrJobNotFound is returned when no job file exists for an id.
	ErrJobNotFound = errors.New("queue: job not found")

	// ErrInvalidJob is returned for jobs missing required fields.
	ErrInvalidJob = errors.New("queue: invalid job")
)

// Job is one persistent embed request.
type Job struct {
	ID            string    `json:"id"`
	JobID         string    `json:"jobId"`
	URL           string    `json:"url"`
	Collection    string    `json:"collection"`
	Status        Status    `json:"status"`
	Retries       int       `json:"retries"`
	MaxRetries    int       `json:"maxRetries"`
	NextAttemptAt time.Time `json:"nextAttemptAt"`
	LastError     string    `json:"lastError,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	SourceCommand string    `json:"sourceCommand"`
	HardSync      bool      `json:"hardSync"`
	APIKeyRef     string    `json:"apiKeyRef,omitempty"`
}

func (j Job) dedupKey() string {
	return j.JobID + "\x00" + j.URL + "\x00" + j.Collection
}

// Config sets the queue directory and retry policy.
type Config struct {
	Dir        string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = 5 * time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 60 * time.Second
	}
}

// Queue stores jobs as individual files. An in-process mutex serializes
// mutations; inter-process safety rests on O_EXCL create and atomic rename.
type Queue struct {
	config Config
	logger *logging.Logger

	mu  sync.Mutex
	now func() time.Time
}

// Open creates the queue directory if needed and recovers crashed jobs: any
// job left in processing by a prior run is coerced back to pending.
func Open(config Config, logger *logging.Logger) (*Queue, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("%w: queue directory is required", ErrInvalidJob)
	}
	config.applyDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := os.MkdirAll(config.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}

	q := &Queue{
		config: config,
		logger: logger.Named("queue"),
		now:    time.Now,
	}
	if err := q.recover(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) recover() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.readAll()
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if job.Status != StatusProcessing {
			continue
		}
		job.Status = StatusPending
		job.UpdatedAt = q.now().UTC()
		if err := q.write(job); err != nil {
			return fmt.Errorf("recover job %s: %w", job.ID, err)
		}
		q.logger.Info("recovered in-flight job", zap.String("id", job.ID), zap.String("url", job.URL))
	}
	return nil
}

// Enqueue persists a new pending job. If a non-terminal job with the same
// (jobId, url, collection) already exists, its id is returned instead.
func (q *Queue) Enqueue(job Job) (string, error) {
	if job.JobID == "" || job.URL == "" || job.Collection == "" {
		return "", fmt.Errorf("%w: jobId, url, and collection are required", ErrInvalidJob)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	existing, err := q.readAll()
	if err != nil {
		return "", err
	}
	for _, e := range existing {
		if !e.Status.Terminal() && e.dedupKey() == job.dedupKey() {
			return e.ID, nil
		}
	}

	now := q.now().UTC()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.config.MaxRetries
	}
	job.Status = StatusPending
	job.Retries = 0
	job.NextAttemptAt = now
	job.CreatedAt = now
	job.UpdatedAt = now

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	// O_EXCL guards against a second process minting the same file.
	f, err := os.OpenFile(q.path(job.ID), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create job file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("write job file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close job file: %w", err)
	}

	q.logger.Debug("enqueued job",
		zap.String("id", job.ID), zap.String("jobId", job.JobID), zap.String("url", job.URL))
	return job.ID, nil
}

// Get returns one job by id.
func (q *Queue) Get(id string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.read(id)
}

// List returns jobs, optionally filtered by status, oldest first.
func (q *Queue) List(status Status) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.readAll()
	if err != nil {
		return nil, err
	}
	filtered := jobs[:0]
	for _, job := range jobs {
		if status == "" || job.Status == status {
			filtered = append(filtered, job)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
	})
	return filtered, nil
}

// Update applies mutate to the stored job and persists the result.
func (q *Queue) Update(id string, mutate func(*Job)) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.read(id)
	if err != nil {
		return Job{}, err
	}
	mutate(&job)
	job.ID = id
	job.UpdatedAt = q.now().UTC()
	if err := q.write(job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Remove deletes a job file.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := os.Remove(q.path(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return fmt.Errorf("remove job file: %w", err)
	}
	return nil
}

// ClaimDue atomically marks every due pending job as processing and returns
// the claimed jobs, oldest first.
func (q *Queue) ClaimDue(now time.Time) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.readAll()
	if err != nil {
		return nil, err
	}

	var claimed []Job
	for _, job := range jobs {
		if job.Status != StatusPending || job.NextAttemptAt.After(now) {
			continue
		}
		job.Status = StatusProcessing
		job.UpdatedAt = q.now().UTC()
		if err := q.write(job); err != nil {
			return nil, fmt.Errorf("claim job %s: %w", job.ID, err)
		}
		claimed = append(claimed, job)
	}
	sort.Slice(claimed, func(i, j int) bool {
		return claimed[i].CreatedAt.Before(claimed[j].CreatedAt)
	})
	return claimed, nil
}

// Complete marks a job completed.
func (q *Queue) Complete(id string) error {
	_, err := q.Update(id, func(j *Job) {
		j.Status = StatusCompleted
		j.LastError = ""
	})
	return err
}

// Requeue puts a job back to pending without consuming a retry. Used while an
// upstream crawl is still running: waiting is not a failure.
func (q *Queue) Requeue(id, reason string) error {
	_, err := q.Update(id, func(j *Job) {
		j.Status = StatusPending
		j.LastError = reason
		j.NextAttemptAt = q.now().UTC().Add(q.Backoff(j.Retries))
	})
	return err
}

// RetryOrFail consumes a retry. Jobs with budget left go back to pending with
// an exponential delay; exhausted jobs are marked failed and retained for
// operator audit.
func (q *Queue) RetryOrFail(id, cause string) (Job, error) {
	return q.Update(id, func(j *Job) {
		j.Retries++
		j.LastError = cause
		if j.Retries < j.MaxRetries {
			j.Status = StatusPending
			j.NextAttemptAt = q.now().UTC().Add(q.Backoff(j.Retries))
			return
		}
		j.Status = StatusFailed
	})
}

// Fail marks a job permanently failed regardless of remaining retries.
func (q *Queue) Fail(id, cause string) error {
	_, err := q.Update(id, func(j *Job) {
		j.Status = StatusFailed
		j.LastError = cause
	})
	return err
}

// Backoff returns min(baseDelay * 2^n, maxDelay).
func (q *Queue) Backoff(n int) time.Duration {
	delay := q.config.BaseDelay
	for i := 0; i < n; i++ {
		delay *= 2
		if delay >= q.config.MaxDelay {
			return q.config.MaxDelay
		}
	}
	if delay > q.config.MaxDelay {
		return q.config.MaxDelay
	}
	return delay
}

// Cleanup removes completed jobs older than retention and failed jobs older
// than failedRetention. Pending and processing jobs are never touched.
func (q *Queue) Cleanup(retention, failedRetention time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.readAll()
	if err != nil {
		return 0, err
	}

	now := q.now().UTC()
	removed := 0
	for _, job := range jobs {
		var cutoff time.Duration
		switch job.Status {
		case StatusCompleted:
			cutoff = retention
		case StatusFailed:
			cutoff = failedRetention
		default:
			continue
		}
		if now.Sub(job.UpdatedAt) < cutoff {
			continue
		}
		if err := os.Remove(q.path(job.ID)); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("cleanup job %s: %w", job.ID, err)
		}
		removed++
	}
	return removed, nil
}

func (q *Queue) path(id string) string {
	return filepath.Join(q.config.Dir, id+".json")
}

func (q *Queue) read(id string) (Job, error) {
	data, err := os.ReadFile(q.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return Job{}, fmt.Errorf("read job file: %w", err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, nil
}

func (q *Queue) readAll() ([]Job, error) {
	entries, err := os.ReadDir(q.config.Dir)
	if err != nil {
		return nil, fmt.Errorf("read queue directory: %w", err)
	}

	var jobs []Job
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		job, err := q.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			// Skip unreadable files rather than wedging the whole queue.
			q.logger.Warn("skipping unreadable job file", zap.String("file", name), zap.Error(err))
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// write persists a job atomically: temp file in the same directory, then
// rename over the target.
func (q *Queue) write(job Job) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	tmp, err := os.CreateTemp(q.config.Dir, job.ID+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp job file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp job file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp job file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp job file: %w", err)
	}
	if err := os.Rename(tmpName, q.path(job.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename job file: %w", err)
	}
	return nil
}
