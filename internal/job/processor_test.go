package job

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
	"github.com/reeseleonb-crypto/quickpostkit/internal/observability/alerting"
	"github.com/reeseleonb-crypto/quickpostkit/internal/questionnaire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingAlerter struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingAlerter) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAlerter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func startProcessor(t *testing.T, exec Executor, store Store, queue *MemoryQueue, opts ...ProcessorOption) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	processor := NewProcessor(exec, store, queue, queue, opts...)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := processor.Start(ctx); err != nil {
			t.Errorf("processor exited: %v", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestProcessorHandlesConcurrentJobs(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	var processed atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, job *Job) (string, error) {
		select {
		case <-time.After(5 * time.Millisecond):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		processed.Add(1)
		return job.ID + ".docx", nil
	})
	stop := startProcessor(t, exec, store, queue, WithWorkerCount(8))
	defer stop()

	service := NewService(store, queue, 3)
	ctx := context.Background()
	total := 100
	for i := 0; i < total; i++ {
		if _, err := service.Submit(ctx, fmt.Sprintf("cs_%d", i), questionnaire.Inputs{Niche: "bakery"}); err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
	}

	waitFor(t, func() bool { return int(processed.Load()) >= total })
	waitFor(t, func() bool {
		stats, _ := store.Stats(ctx, ListOptions{})
		return stats.Ready == total
	})
}

func TestProcessorRetriesRetryableFailures(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	var calls atomic.Int32
	exec := ExecutorFunc(func(context.Context, *Job) (string, error) {
		if calls.Add(1) < 3 {
			return "", xerrors.New(xerrors.CodeMalformedOutput, "no usable days")
		}
		return "plan.docx", nil
	})
	stop := startProcessor(t, exec, store, queue, WithRetryDelay(time.Millisecond))
	defer stop()

	service := NewService(store, queue, 3)
	job, err := service.Submit(context.Background(), "cs_1", questionnaire.Inputs{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitFor(t, func() bool {
		got, _ := store.Get(context.Background(), job.ID)
		return got.Status == StatusReady
	})
	got, _ := store.Get(context.Background(), job.ID)
	if got.Attempts != 3 || got.Filename != "plan.docx" {
		t.Fatalf("unexpected job after retries: %+v", got)
	}
}

func TestProcessorTerminalFailureRaisesAlert(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	alerter := &recordingAlerter{}
	var calls atomic.Int32
	exec := ExecutorFunc(func(context.Context, *Job) (string, error) {
		calls.Add(1)
		return "", xerrors.New(xerrors.CodeLLMRejected, "invalid api key")
	})
	stop := startProcessor(t, exec, store, queue, WithAlertDispatcher(alerter))
	defer stop()

	service := NewService(store, queue, 3)
	job, err := service.Submit(context.Background(), "cs_1", questionnaire.Inputs{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitFor(t, func() bool {
		got, _ := store.Get(context.Background(), job.ID)
		return got.Status == StatusFailed
	})
	waitFor(t, func() bool { return alerter.count() == 1 })
	got, _ := store.Get(context.Background(), job.ID)
	if got.ErrorCode != string(xerrors.CodeLLMRejected) {
		t.Fatalf("unexpected error code %q", got.ErrorCode)
	}
	if calls.Load() != 1 {
		t.Fatalf("non-retryable failures must not be retried, got %d calls", calls.Load())
	}
}

func TestProcessorGivesUpAfterMaxRetries(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	var calls atomic.Int32
	exec := ExecutorFunc(func(context.Context, *Job) (string, error) {
		calls.Add(1)
		return "", xerrors.New(xerrors.CodeLLMUnavailable, "upstream 503")
	})
	stop := startProcessor(t, exec, store, queue)
	defer stop()

	service := NewService(store, queue, 2)
	job, err := service.Submit(context.Background(), "cs_1", questionnaire.Inputs{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool {
		got, _ := store.Get(context.Background(), job.ID)
		return got.Status == StatusFailed
	})
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestProcessorTimesOutSlowJobs(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	exec := ExecutorFunc(func(ctx context.Context, _ *Job) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	stop := startProcessor(t, exec, store, queue, WithJobTimeout(20*time.Millisecond))
	defer stop()

	service := NewService(store, queue, 1)
	job, err := service.Submit(context.Background(), "cs_1", questionnaire.Inputs{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool {
		got, _ := store.Get(context.Background(), job.ID)
		return got.Status == StatusFailed
	})
	got, _ := store.Get(context.Background(), job.ID)
	if got.ErrorCode != string(xerrors.CodeTimeout) {
		t.Fatalf("expected timeout code, got %q", got.ErrorCode)
	}
}
