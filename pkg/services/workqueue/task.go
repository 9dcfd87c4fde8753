package workqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

func (s TaskStatus) terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Task is one unit of queued work, typically a single product.
type Task interface {
	ID() string
	// Name is used in logs.
	Name() string
	// Execute runs the task. A retryable error (see retry.IsRetryable) runs it
	// again after a backoff.
	Execute(ctx context.Context) error
}

// taskState is the queue's bookkeeping for one task.
type taskState struct {
	task Task

	mu          sync.RWMutex
	status      TaskStatus
	startedAt   *time.Time
	completedAt *time.Time
	err         error
	retries     int
}

func newTaskState(task Task) *taskState {
	return &taskState{task: task, status: TaskStatusPending}
}

func (ts *taskState) getStatus() TaskStatus {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.status
}

// setStatus records a transition with its timestamp and, for failures, the error.
func (ts *taskState) setStatus(status TaskStatus, err error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := time.Now()
	ts.status = status
	if status == TaskStatusRunning {
		ts.startedAt = &now
	}
	if status.terminal() {
		ts.completedAt = &now
		ts.err = err
	}
}

func (ts *taskState) getError() error {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.err
}

func (ts *taskState) addRetry() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.retries++
	return ts.retries
}

func (ts *taskState) snapshot() TaskSnapshot {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	s := TaskSnapshot{
		ID:          ts.task.ID(),
		Name:        ts.task.Name(),
		Status:      ts.status,
		StartedAt:   ts.startedAt,
		CompletedAt: ts.completedAt,
		RetryCount:  ts.retries,
	}
	if ts.err != nil {
		s.Error = ts.err.Error()
	}
	return s
}

// TaskSnapshot is an immutable view of a task's state.
type TaskSnapshot struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      TaskStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RetryCount  int        `json:"retry_count,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Duration is how long the task ran, zero until it finishes.
func (s TaskSnapshot) Duration() time.Duration {
	if s.StartedAt == nil || s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(*s.StartedAt)
}

// BaseTask provides the ID and name of a task. Embed it in concrete tasks.
type BaseTask struct {
	id   string
	name string
}

// NewBaseTask gives the task a fresh unique ID.
func NewBaseTask(name string) BaseTask {
	return BaseTask{id: uuid.New().String(), name: name}
}

func (t BaseTask) ID() string   { return t.id }
func (t BaseTask) Name() string { return t.name }
