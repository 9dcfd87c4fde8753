package workqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

// testTask runs fn as its Execute.
type testTask struct {
	BaseTask
	fn func(ctx context.Context) error
}

func newTestTask(name string, fn func(ctx context.Context) error) *testTask {
	return &testTask{BaseTask: NewBaseTask(name), fn: fn}
}

func (t *testTask) Execute(ctx context.Context) error {
	if t.fn != nil {
		return t.fn(ctx)
	}
	return nil
}

// transientError declares itself retryable.
type transientError struct{}

func (transientError) Error() string     { return "database briefly unavailable" }
func (transientError) IsRetryable() bool { return true }

func fastRetries(n int) RetryConfig {
	return RetryConfig{
		MaxRetries:     n,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestQueue_EnqueueAndComplete(t *testing.T) {
	q := New(zap.NewNop())

	var executed atomic.Bool
	q.Enqueue(newTestTask("ls8_level1_scene", func(ctx context.Context) error {
		executed.Store(true)
		return nil
	}))

	if err := q.Wait(waitCtx(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !executed.Load() {
		t.Error("task was not executed")
	}
	if p := q.Progress(); p.Completed != 1 || p.Total != 1 {
		t.Errorf("expected 1/1 completed, got %+v", p)
	}
}

func TestQueue_EmptyQueue(t *testing.T) {
	q := New(zap.NewNop())
	if err := q.Wait(waitCtx(t)); err != nil {
		t.Errorf("expected nil for an empty queue, got %v", err)
	}
	if q.Progress().Percentage() != 100 {
		t.Error("an empty queue is complete")
	}
}

func TestQueue_TaskFailure(t *testing.T) {
	q := New(zap.NewNop())

	expectedErr := errors.New("product definition is broken")
	q.Enqueue(newTestTask("ls7_level1_scene", func(ctx context.Context) error {
		return expectedErr
	}))

	err := q.Wait(waitCtx(t))
	if !errors.Is(err, expectedErr) {
		t.Errorf("expected %v, got %v", expectedErr, err)
	}
	if p := q.Progress(); p.Failed != 1 {
		t.Errorf("expected 1 failure, got %+v", p)
	}
}

func TestQueue_NonRetryableErrorRunsOnce(t *testing.T) {
	q := New(zap.NewNop(), WithRetryConfig(fastRetries(3)))

	var attempts int32
	q.Enqueue(newTestTask("bad-product", func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("unknown product")
	}))
	_ = q.Wait(waitCtx(t))

	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
}

func TestQueue_RetriesTransientErrors(t *testing.T) {
	snapshots := make(chan TaskSnapshot, 1)
	q := New(zap.NewNop(),
		WithRetryConfig(fastRetries(3)),
		WithOnComplete(func(s TaskSnapshot) { snapshots <- s }))

	var attempts int32
	q.Enqueue(newTestTask("flaky", func(ctx context.Context) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return transientError{}
		}
		return nil
	}))

	if err := q.Wait(waitCtx(t)); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	snapshot := <-snapshots
	if snapshot.Status != TaskStatusCompleted || snapshot.RetryCount != 2 {
		t.Errorf("expected completed after 2 retries, got %+v", snapshot)
	}
	if snapshot.Duration() <= 0 {
		t.Error("expected a positive duration")
	}
}

func TestQueue_GivesUpAfterMaxRetries(t *testing.T) {
	q := New(zap.NewNop(), WithRetryConfig(fastRetries(2)))

	var attempts int32
	q.Enqueue(newTestTask("down", func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return transientError{}
	}))

	if err := q.Wait(waitCtx(t)); err == nil {
		t.Fatal("expected failure")
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", got)
	}
}

func TestQueue_OneAtATimeByDefault(t *testing.T) {
	q := New(zap.NewNop())

	var running, maxRunning int32
	var mu sync.Mutex
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		q.Enqueue(newTestTask(name, func(ctx context.Context) error {
			n := atomic.AddInt32(&running, 1)
			for {
				m := atomic.LoadInt32(&maxRunning)
				if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			atomic.AddInt32(&running, -1)
			return nil
		}))
	}

	if err := q.Wait(waitCtx(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&maxRunning); got != 1 {
		t.Errorf("expected at most 1 running task, saw %d", got)
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("expected enqueue order, got %v", order)
	}
}

func TestQueue_BoundedParallelism(t *testing.T) {
	strategy := NewBoundedStrategy(2)
	q := New(zap.NewNop(), WithStrategy(strategy))

	var running, maxRunning int32
	release := make(chan struct{})
	for i := 0; i < 5; i++ {
		q.Enqueue(newTestTask("product", func(ctx context.Context) error {
			n := atomic.AddInt32(&running, 1)
			for {
				m := atomic.LoadInt32(&maxRunning)
				if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&running, -1)
			return nil
		}))
	}

	time.Sleep(20 * time.Millisecond)
	if got := strategy.Running(); got != 2 {
		t.Errorf("expected 2 running, got %d", got)
	}
	close(release)

	if err := q.Wait(waitCtx(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&maxRunning); got > 2 {
		t.Errorf("expected at most 2 parallel tasks, saw %d", got)
	}
	if strategy.Running() != 0 {
		t.Errorf("expected no running tasks after Wait, got %d", strategy.Running())
	}
}

func TestQueue_CancelRunningAndPending(t *testing.T) {
	var mu sync.Mutex
	statuses := map[string]TaskStatus{}
	q := New(zap.NewNop(), WithOnComplete(func(s TaskSnapshot) {
		mu.Lock()
		statuses[s.Name] = s.Status
		mu.Unlock()
	}))

	started := make(chan struct{})
	q.Enqueue(newTestTask("running", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	q.Enqueue(newTestTask("pending", nil))

	<-started
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	// The running task observes cancellation asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(statuses)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	if statuses["running"] != TaskStatusCancelled || statuses["pending"] != TaskStatusCancelled {
		t.Errorf("expected both tasks cancelled, got %v", statuses)
	}
	mu.Unlock()

	q.Enqueue(newTestTask("late", nil))
	if q.Progress().Total != 2 {
		t.Error("a cancelled queue accepts no tasks")
	}
}

func TestQueue_OnCompleteCalledOncePerTask(t *testing.T) {
	snapshots := make(chan TaskSnapshot, 10)
	q := New(zap.NewNop(),
		WithStrategy(NewBoundedStrategy(3)),
		WithRetryConfig(fastRetries(1)),
		WithOnComplete(func(s TaskSnapshot) { snapshots <- s }))

	q.Enqueue(newTestTask("ok", nil))
	q.Enqueue(newTestTask("fails", func(ctx context.Context) error { return errors.New("invalid geometry") }))
	q.Enqueue(newTestTask("flaky", func(ctx context.Context) error { return transientError{} }))
	_ = q.Wait(waitCtx(t))

	seen := map[string]TaskStatus{}
	for len(seen) < 3 {
		select {
		case s := <-snapshots:
			if _, dup := seen[s.Name]; dup {
				t.Errorf("second callback for %s", s.Name)
			}
			seen[s.Name] = s.Status
		case <-time.After(2 * time.Second):
			t.Fatalf("expected 3 callbacks, got %v", seen)
		}
	}
	if seen["ok"] != TaskStatusCompleted || seen["fails"] != TaskStatusFailed || seen["flaky"] != TaskStatusFailed {
		t.Errorf("unexpected statuses %v", seen)
	}
}

func TestQueue_MultipleBatches(t *testing.T) {
	q := New(zap.NewNop())

	q.Enqueue(newTestTask("first", nil))
	if err := q.Wait(waitCtx(t)); err != nil {
		t.Fatalf("first batch: %v", err)
	}

	q.Enqueue(newTestTask("second", nil))
	if err := q.Wait(waitCtx(t)); err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if p := q.Progress(); p.Completed != 2 {
		t.Errorf("expected 2 completed, got %+v", p)
	}
}

func TestProgress_Percentage(t *testing.T) {
	tests := []struct {
		p    Progress
		want int
	}{
		{Progress{}, 100},
		{Progress{Total: 4, Completed: 1}, 25},
		{Progress{Total: 3, Completed: 1, Failed: 1, Running: 1}, 66},
		{Progress{Total: 2, Cancelled: 1, Failed: 1}, 100},
	}
	for _, tt := range tests {
		if got := tt.p.Percentage(); got != tt.want {
			t.Errorf("%+v: expected %d%%, got %d%%", tt.p, tt.want, got)
		}
	}
}

func TestBoundedStrategy_Counts(t *testing.T) {
	s := NewBoundedStrategy(0)
	if !s.CanStart() {
		t.Fatal("a limit below one is treated as one")
	}
	s.OnStart()
	if s.CanStart() {
		t.Error("expected the single slot to be taken")
	}
	s.OnComplete()
	s.OnComplete()
	if s.Running() != 0 {
		t.Errorf("running never goes negative, got %d", s.Running())
	}
}

func TestRetryConfig_Policy(t *testing.T) {
	p := DefaultRetryConfig().Policy()
	if p.MaxRetries != 3 || p.InitialDelay != 2*time.Second || p.MaxDelay != 30*time.Second {
		t.Errorf("unexpected policy %+v", p)
	}
	if p.MaxSameErrorType != 0 {
		t.Error("repeated errors are retried until MaxRetries")
	}
}
