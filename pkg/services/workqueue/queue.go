// Package workqueue runs product tasks with bounded parallelism, retrying
// transient failures.
package workqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opendatacube/cubedash-engine/pkg/metrics"
	"github.com/opendatacube/cubedash-engine/pkg/retry"
)

// RetryConfig configures retry behavior for failed tasks.
type RetryConfig struct {
	MaxRetries     int           // 0 = no retries
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultRetryConfig returns the retry behaviour for product generation.
// Backoff schedule: 2s, 4s, 8s. Product work is long, so retries are few.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
	}
}

// Policy converts the config for retry.DoIfRetryable. Every transient error
// is retried until MaxRetries, whatever its kind.
func (c RetryConfig) Policy() *retry.Config {
	return &retry.Config{
		MaxRetries:   c.MaxRetries,
		InitialDelay: c.InitialBackoff,
		MaxDelay:     c.MaxBackoff,
		Multiplier:   c.BackoffFactor,
		JitterFactor: 0.1,
	}
}

// Queue runs tasks in enqueue order as its strategy allows.
type Queue struct {
	mu        sync.Mutex
	tasks     []*taskState
	cancelled bool

	strategy    ConcurrencyStrategy
	retryConfig RetryConfig

	// closed when every task is terminal
	done chan struct{}
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	onComplete func(TaskSnapshot)
	logger     *zap.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithStrategy sets the concurrency strategy.
func WithStrategy(strategy ConcurrencyStrategy) QueueOption {
	return func(q *Queue) {
		if strategy != nil {
			q.strategy = strategy
		}
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(config RetryConfig) QueueOption {
	return func(q *Queue) {
		q.retryConfig = config
	}
}

// WithOnComplete sets a callback invoked once for every task reaching a
// terminal state. It runs without the queue lock held, so it may call Progress.
func WithOnComplete(callback func(TaskSnapshot)) QueueOption {
	return func(q *Queue) {
		q.onComplete = callback
	}
}

// New creates a queue. Without WithStrategy tasks run one at a time.
func New(logger *zap.Logger, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		strategy:    NewBoundedStrategy(1),
		retryConfig: DefaultRetryConfig(),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.Named("workqueue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds a task and starts it if the strategy allows.
func (q *Queue) Enqueue(task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled {
		q.logger.Warn("Queue cancelled, ignoring task", zap.String("task_name", task.Name()))
		return
	}

	// A finished batch is followed by a new one.
	select {
	case <-q.done:
		q.done = make(chan struct{})
	default:
	}

	q.tasks = append(q.tasks, newTaskState(task))
	q.logger.Debug("Task enqueued",
		zap.String("task_id", task.ID()),
		zap.String("task_name", task.Name()))
	q.startPendingLocked()
}

// startPendingLocked starts pending tasks in enqueue order while the strategy allows.
func (q *Queue) startPendingLocked() {
	if q.cancelled {
		return
	}
	for _, ts := range q.tasks {
		if ts.getStatus() != TaskStatusPending {
			continue
		}
		if !q.strategy.CanStart() {
			return
		}

		q.strategy.OnStart()
		ts.setStatus(TaskStatusRunning, nil)
		metrics.QueueTasksRunning.Inc()
		q.logger.Info("Starting task", zap.String("task_name", ts.task.Name()))

		q.wg.Add(1)
		go q.run(ts)
	}
}

// run executes a task, retrying transient errors with backoff.
func (q *Queue) run(ts *taskState) {
	defer q.wg.Done()

	logger := q.logger.With(zap.String("task_id", ts.task.ID()), zap.String("task_name", ts.task.Name()))
	attempt := 0
	err := retry.DoIfRetryable(q.ctx, q.retryConfig.Policy(), func() error {
		if attempt > 0 {
			logger.Info("Retrying task", zap.Int("retry", ts.addRetry()), zap.Int("max_retries", q.retryConfig.MaxRetries))
		}
		attempt++

		err := ts.task.Execute(q.ctx)
		if err != nil && retry.IsRetryable(err) && attempt <= q.retryConfig.MaxRetries {
			logger.Warn("Retryable error encountered", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
	q.complete(ts, err)
}

// complete moves a task to its terminal state, starts waiting tasks and
// reports the outcome to the completion callback.
func (q *Queue) complete(ts *taskState, err error) {
	q.mu.Lock()

	q.strategy.OnComplete()
	metrics.QueueTasksRunning.Dec()

	switch {
	case err == nil:
		ts.setStatus(TaskStatusCompleted, nil)
	case errors.Is(err, context.Canceled):
		ts.setStatus(TaskStatusCancelled, err)
		q.logger.Info("Task cancelled", zap.String("task_name", ts.task.Name()))
	default:
		ts.setStatus(TaskStatusFailed, err)
		q.logger.Error("Task failed", zap.String("task_name", ts.task.Name()), zap.Error(err))
	}

	snapshot := ts.snapshot()
	if q.allDoneLocked() {
		q.closeDoneLocked()
	} else {
		q.startPendingLocked()
	}
	callback := q.onComplete
	q.mu.Unlock()

	if callback != nil {
		callback(snapshot)
	}
}

func (q *Queue) allDoneLocked() bool {
	for _, ts := range q.tasks {
		if !ts.getStatus().terminal() {
			return false
		}
	}
	return true
}

func (q *Queue) closeDoneLocked() {
	select {
	case <-q.done:
	default:
		close(q.done)
	}
}

// Wait blocks until every task is terminal and returns the first failure,
// or cancels the queue and returns ctx.Err() when ctx ends first.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	if len(q.tasks) == 0 {
		q.mu.Unlock()
		return nil
	}
	done := q.done
	q.mu.Unlock()

	select {
	case <-done:
		q.mu.Lock()
		defer q.mu.Unlock()
		for _, ts := range q.tasks {
			if ts.getStatus() == TaskStatusFailed {
				return ts.getError()
			}
		}
		return nil
	case <-ctx.Done():
		q.Cancel()
		return ctx.Err()
	}
}

// Cancel stops accepting tasks, cancels pending ones and signals running ones to stop.
func (q *Queue) Cancel() {
	q.mu.Lock()
	if q.cancelled {
		q.mu.Unlock()
		return
	}
	q.cancelled = true
	q.logger.Info("Queue cancelled, signalling running tasks to stop")
	q.cancel()

	var cancelled []TaskSnapshot
	for _, ts := range q.tasks {
		if ts.getStatus() == TaskStatusPending {
			ts.setStatus(TaskStatusCancelled, context.Canceled)
			cancelled = append(cancelled, ts.snapshot())
		}
	}
	if q.allDoneLocked() {
		q.closeDoneLocked()
	}
	callback := q.onComplete
	q.mu.Unlock()

	if callback != nil {
		for _, s := range cancelled {
			callback(s)
		}
	}
}

// Progress counts the queue's tasks by status.
func (q *Queue) Progress() Progress {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := Progress{Total: len(q.tasks)}
	for _, ts := range q.tasks {
		switch ts.getStatus() {
		case TaskStatusPending:
			p.Pending++
		case TaskStatusRunning:
			p.Running++
		case TaskStatusCompleted:
			p.Completed++
		case TaskStatusFailed:
			p.Failed++
		case TaskStatusCancelled:
			p.Cancelled++
		}
	}
	return p
}

// Progress holds queue progress statistics.
type Progress struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Finished is the number of tasks in a terminal state.
func (p Progress) Finished() int {
	return p.Completed + p.Failed + p.Cancelled
}

// Percentage returns the completion percentage (0-100).
func (p Progress) Percentage() int {
	if p.Total == 0 {
		return 100
	}
	return p.Finished() * 100 / p.Total
}
