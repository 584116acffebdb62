package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(Config{Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	return q
}

func testJob() Job {
	return Job{
		JobID:         "J1",
		URL:           "https://site.test",
		Collection:    "axon",
		SourceCommand: "crawl",
	}
}

func TestEnqueueDedup(t *testing.T) {
	q := testQueue(t)

	first, err := q.Enqueue(testJob())
	require.NoError(t, err)
	second, err := q.Enqueue(testJob())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	jobs, err := q.List("")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestEnqueueDedupIgnoresTerminal(t *testing.T) {
	q := testQueue(t)

	first, err := q.Enqueue(testJob())
	require.NoError(t, err)
	require.NoError(t, q.Complete(first))

	second, err := q.Enqueue(testJob())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestEnqueueValidation(t *testing.T) {
	q := testQueue(t)
	_, err := q.Enqueue(Job{URL: "https://site.test"})
	assert.ErrorIs(t, err, ErrInvalidJob)
}

func TestCrashRecoveryCoercesProcessing(t *testing.T) {
	dir := t.TempDir()
	q, err := Open(Config{Dir: dir}, nil)
	require.NoError(t, err)

	id, err := q.Enqueue(testJob())
	require.NoError(t, err)
	_, err = q.Update(id, func(j *Job) { j.Status = StatusProcessing })
	require.NoError(t, err)

	// A fresh open simulates a restart after a crash mid-flight.
	reopened, err := Open(Config{Dir: dir}, nil)
	require.NoError(t, err)
	job, err := reopened.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
}

func TestClaimDueRespectsNextAttempt(t *testing.T) {
	q := testQueue(t)

	dueID, err := q.Enqueue(testJob())
	require.NoError(t, err)

	later := testJob()
	later.JobID = "J2"
	laterID, err := q.Enqueue(later)
	require.NoError(t, err)
	_, err = q.Update(laterID, func(j *Job) {
		j.NextAttemptAt = time.Now().UTC().Add(time.Hour)
	})
	require.NoError(t, err)

	claimed, err := q.ClaimDue(time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, dueID, claimed[0].ID)
	assert.Equal(t, StatusProcessing, claimed[0].Status)

	// A claimed job cannot be claimed twice.
	again, err := q.ClaimDue(time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestRetryOrFailExhaustsBudget(t *testing.T) {
	q := testQueue(t)
	id, err := q.Enqueue(testJob())
	require.NoError(t, err)

	job, err := q.RetryOrFail(id, "boom 1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, 1, job.Retries)
	assert.True(t, job.NextAttemptAt.After(time.Now()))

	job, err = q.RetryOrFail(id, "boom 2")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)

	job, err = q.RetryOrFail(id, "boom 3")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "boom 3", job.LastError)
}

func TestRequeueDoesNotConsumeRetry(t *testing.T) {
	q := testQueue(t)
	id, err := q.Enqueue(testJob())
	require.NoError(t, err)

	require.NoError(t, q.Requeue(id, "still scraping"))
	job, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, 0, job.Retries)
	assert.Equal(t, "still scraping", job.LastError)
}

func TestBackoffCaps(t *testing.T) {
	q, err := Open(Config{
		Dir:       t.TempDir(),
		BaseDelay: 5 * time.Second,
		MaxDelay:  60 * time.Second,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, q.Backoff(0))
	assert.Equal(t, 10*time.Second, q.Backoff(1))
	assert.Equal(t, 20*time.Second, q.Backoff(2))
	assert.Equal(t, 40*time.Second, q.Backoff(3))
	assert.Equal(t, 60*time.Second, q.Backoff(4))
	assert.Equal(t, 60*time.Second, q.Backoff(20))
}

func TestCleanupRetention(t *testing.T) {
	q := testQueue(t)

	old := time.Now().UTC().Add(-48 * time.Hour)
	q.now = func() time.Time { return old }

	completedID, err := q.Enqueue(testJob())
	require.NoError(t, err)
	require.NoError(t, q.Complete(completedID))

	failed := testJob()
	failed.JobID = "J2"
	failedID, err := q.Enqueue(failed)
	require.NoError(t, err)
	require.NoError(t, q.Fail(failedID, "gone"))

	pending := testJob()
	pending.JobID = "J3"
	pendingID, err := q.Enqueue(pending)
	require.NoError(t, err)

	q.now = time.Now

	// Completed job is past 24h retention; failed is within its 7d window.
	removed, err := q.Cleanup(24*time.Hour, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = q.Get(completedID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = q.Get(failedID)
	assert.NoError(t, err)
	_, err = q.Get(pendingID)
	assert.NoError(t, err)
}

func TestListFiltersByStatus(t *testing.T) {
	q := testQueue(t)

	id, err := q.Enqueue(testJob())
	require.NoError(t, err)
	other := testJob()
	other.JobID = "J2"
	_, err = q.Enqueue(other)
	require.NoError(t, err)
	require.NoError(t, q.Complete(id))

	pending, err := q.List(StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	completed, err := q.List(StatusCompleted)
	require.NoError(t, err)
	assert.Len(t, completed, 1)
	assert.Equal(t, id, completed[0].ID)
}
