package workqueue

import "sync"

// ConcurrencyStrategy decides whether another task may start. The queue
// reports every start and completion to it.
type ConcurrencyStrategy interface {
	CanStart() bool
	OnStart()
	// OnComplete is called when a task finishes, whatever the outcome.
	OnComplete()
}

// BoundedStrategy allows up to maxConcurrent tasks to run in parallel.
type BoundedStrategy struct {
	mu            sync.Mutex
	maxConcurrent int
	running       int
}

// NewBoundedStrategy creates a strategy allowing up to maxConcurrent parallel
// tasks. Values below one are treated as one.
func NewBoundedStrategy(maxConcurrent int) *BoundedStrategy {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &BoundedStrategy{maxConcurrent: maxConcurrent}
}

func (s *BoundedStrategy) CanStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running < s.maxConcurrent
}

func (s *BoundedStrategy) OnStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running++
}

func (s *BoundedStrategy) OnComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running > 0 {
		s.running--
	}
}

// Running returns the number of tasks currently counted as running.
func (s *BoundedStrategy) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
