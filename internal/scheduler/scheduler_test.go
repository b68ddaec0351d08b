package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reeseleonb-crypto/quickpostkit/internal/artifact"
	"github.com/reeseleonb-crypto/quickpostkit/internal/job"
	"github.com/reeseleonb-crypto/quickpostkit/internal/questionnaire"
)

type countingJob struct {
	runs atomic.Int32
	err  error
}

func (j *countingJob) Name() string { return "counting" }

func (j *countingJob) Run(context.Context) error {
	j.runs.Add(1)
	return j.err
}

type prunerFunc func(ctx context.Context, cutoff time.Time) (int, error)

func (f prunerFunc) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return f(ctx, cutoff)
}

func TestSchedulerRunsRegisteredJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(time.Second)
	j := &countingJob{}
	require.NoError(t, s.AddJob(ctx, "@every 1s", j))

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return j.runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	s := New(0)
	assert.Error(t, s.AddJob(context.Background(), "every now and then", &countingJob{}))
}

func TestRunNowReturnsJobError(t *testing.T) {
	s := New(0)
	j := &countingJob{err: errors.New("boom")}
	assert.EqualError(t, s.RunNow(context.Background(), j), "boom")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.RunNow(ctx, j), context.Canceled)
	assert.EqualValues(t, 1, j.runs.Load())
}

func TestSweepJobRemovesExpiredData(t *testing.T) {
	ctx := context.Background()
	store, err := artifact.NewLocalStore(filepath.Join(t.TempDir(), "docs"))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "old.docx", strings.NewReader("x"), 1))

	var gotCutoff time.Time
	now := time.Now().Add(48 * time.Hour)
	sweep := &SweepJob{
		Artifacts: store,
		Jobs: prunerFunc(func(_ context.Context, cutoff time.Time) (int, error) {
			gotCutoff = cutoff
			return 2, nil
		}),
		Retention: 24 * time.Hour,
		Now:       func() time.Time { return now },
	}
	require.NoError(t, sweep.Run(ctx))
	assert.Equal(t, now.Add(-24*time.Hour), gotCutoff)

	_, err = store.Open(ctx, "old.docx")
	assert.Error(t, err)
}

func TestSweepJobJoinsErrors(t *testing.T) {
	sweep := &SweepJob{
		Jobs: prunerFunc(func(context.Context, time.Time) (int, error) {
			return 0, errors.New("db down")
		}),
	}
	assert.ErrorContains(t, sweep.Run(context.Background()), "db down")
}

func TestResumeJobLeavesFreshBacklogAlone(t *testing.T) {
	ctx := context.Background()
	store := job.NewMemoryStore()
	queue := job.NewMemoryQueue(4)
	svc := job.NewService(store, queue, 3)

	require.NoError(t, store.Create(ctx, &job.Job{
		ID:         "job_orphan",
		SessionID:  "cs_orphan",
		Status:     job.StatusWorking,
		Inputs:     questionnaire.Inputs{Niche: "bakery"},
		MaxRetries: 3,
	}))

	require.NoError(t, (&ResumeJob{Service: svc, Lease: time.Minute}).Run(ctx))
	assert.Equal(t, 0, queue.Len(), "job updated just now is still waiting in the queue")
}

type recordingResumer struct {
	lease, minIdle time.Duration
}

func (r *recordingResumer) ResumePending(_ context.Context, lease, minIdle time.Duration) (int, error) {
	r.lease, r.minIdle = lease, minIdle
	return 0, nil
}

func TestResumeJobDefaultsIdleToLease(t *testing.T) {
	r := &recordingResumer{}
	require.NoError(t, (&ResumeJob{Service: r, Lease: 5 * time.Minute}).Run(context.Background()))
	assert.Equal(t, 5*time.Minute, r.lease)
	assert.Equal(t, 5*time.Minute, r.minIdle)

	require.NoError(t, (&ResumeJob{Service: r, Lease: 5 * time.Minute, MinIdle: time.Hour}).Run(context.Background()))
	assert.Equal(t, time.Hour, r.minIdle)
}
