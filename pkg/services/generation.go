package services

import (
	"context"
	"errors"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/opendatacube/cubedash-engine/pkg/metrics"
	"github.com/opendatacube/cubedash-engine/pkg/models"
	"github.com/opendatacube/cubedash-engine/pkg/retry"
	"github.com/opendatacube/cubedash-engine/pkg/services/workqueue"
)

// StoreFactory opens a SummaryStore with its own connections. The returned
// func releases them.
type StoreFactory func(ctx context.Context) (SummaryStore, func(), error)

// GenerateOptions controls a generation run.
type GenerateOptions struct {
	// Products processed in parallel. One runs everything in the calling goroutine.
	Jobs int
	// Products refreshed more recently than this are not refreshed again.
	RefreshOlderThan time.Duration
	// Recompute every dataset extent instead of only missing ones.
	ForceExtents bool
	// Recompute every stored summary even when the product was not refreshed.
	ForceSummaries bool
	Retry          workqueue.RetryConfig
}

// ProductOutcome is the result of generating one product.
type ProductOutcome struct {
	Product string
	Refresh *models.RefreshResult
	// The all-time summary, nil on failure.
	Summary *models.TimePeriodOverview
	Err     error
}

// Generator refreshes and summarises products, in parallel when asked.
type Generator struct {
	factory StoreFactory
	breaker *gobreaker.CircuitBreaker[*openedStore]
	logger  *zap.Logger
}

type openedStore struct {
	store   SummaryStore
	release func()
}

// NewGenerator creates a Generator. Opening stores goes through a circuit
// breaker so an unreachable database fails the remaining products quickly.
func NewGenerator(factory StoreFactory, logger *zap.Logger) *Generator {
	logger = logger.Named("generator")
	name := "summary-store"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	breaker := gobreaker.NewCircuitBreaker[*openedStore](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Store circuit breaker changed state",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	return &Generator{factory: factory, breaker: breaker, logger: logger}
}

func (g *Generator) open(ctx context.Context) (*openedStore, error) {
	return g.breaker.Execute(func() (*openedStore, error) {
		store, release, err := g.factory(ctx)
		if err != nil {
			return nil, err
		}
		return &openedStore{store: store, release: release}, nil
	})
}

// Run generates every named product and returns one outcome per product in
// completion order, plus the number of failures.
func (g *Generator) Run(ctx context.Context, products []string, opts GenerateOptions) ([]ProductOutcome, int) {
	if opts.RefreshOlderThan == 0 {
		opts.RefreshOlderThan = DefaultRefreshOlderThan
	}
	if opts.Retry == (workqueue.RetryConfig{}) {
		opts.Retry = workqueue.DefaultRetryConfig()
	}

	var outcomes []ProductOutcome
	if opts.Jobs <= 1 {
		outcomes = g.runInline(ctx, products, opts)
	} else {
		outcomes = g.runParallel(ctx, products, opts)
	}

	failures := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failures++
		}
	}
	g.logger.Info("Generation finished",
		zap.Int("products", len(products)),
		zap.Int("failures", failures))
	return outcomes, failures
}

func (g *Generator) runInline(ctx context.Context, products []string, opts GenerateOptions) []ProductOutcome {
	policy := opts.Retry.Policy()
	outcomes := make([]ProductOutcome, 0, len(products))
	for i, product := range products {
		task := newProductTask(g, product, opts)
		err := retry.DoIfRetryable(ctx, policy, func() error {
			return task.Execute(ctx)
		})
		outcomes = append(outcomes, task.outcome(err))
		g.logProgress(product, i+1, len(products))
	}
	return outcomes
}

func (g *Generator) logProgress(product string, finished, total int) {
	g.logger.Info("Product finished",
		zap.String("product", product),
		zap.Int("finished", finished),
		zap.Int("total", total))
}

func (g *Generator) runParallel(ctx context.Context, products []string, opts GenerateOptions) []ProductOutcome {
	results := make(chan ProductOutcome, len(products))
	tasks := make(map[string]*productTask, len(products))
	var mu sync.Mutex

	var queue *workqueue.Queue
	queue = workqueue.New(g.logger,
		workqueue.WithStrategy(workqueue.NewBoundedStrategy(opts.Jobs)),
		workqueue.WithRetryConfig(opts.Retry),
		workqueue.WithOnComplete(func(s workqueue.TaskSnapshot) {
			mu.Lock()
			task := tasks[s.ID]
			mu.Unlock()
			var err error
			switch s.Status {
			case workqueue.TaskStatusFailed:
				err = task.lastError()
			case workqueue.TaskStatusCancelled:
				err = context.Canceled
			}
			results <- task.outcome(err)
			g.logProgress(s.Name, queue.Progress().Finished(), len(products))
		}))

	for _, product := range products {
		task := newProductTask(g, product, opts)
		mu.Lock()
		tasks[task.ID()] = task
		mu.Unlock()
		queue.Enqueue(task)
	}

	// Failures are reported per product through the outcomes.
	_ = queue.Wait(ctx)

	outcomes := make([]ProductOutcome, 0, len(products))
	for len(outcomes) < len(products) {
		select {
		case o := <-results:
			outcomes = append(outcomes, o)
		case <-time.After(time.Minute):
			// Running tasks that ignore cancellation; report them as cancelled.
			g.logger.Warn("Timed out waiting for product tasks to stop")
			return append(outcomes, g.missing(products, outcomes)...)
		}
	}
	return outcomes
}

func (g *Generator) missing(products []string, done []ProductOutcome) []ProductOutcome {
	seen := make(map[string]bool, len(done))
	for _, o := range done {
		seen[o.Product] = true
	}
	var out []ProductOutcome
	for _, p := range products {
		if !seen[p] {
			out = append(out, ProductOutcome{Product: p, Err: context.Canceled})
		}
	}
	return out
}

// ============================================================================
// Product task
// ============================================================================

// productTask refreshes one product and brings its all-time summary up to date.
type productTask struct {
	workqueue.BaseTask
	gen     *Generator
	product string
	opts    GenerateOptions

	mu      sync.Mutex
	refresh *models.RefreshResult
	summary *models.TimePeriodOverview
	err     error
}

func newProductTask(g *Generator, product string, opts GenerateOptions) *productTask {
	return &productTask{
		BaseTask: workqueue.NewBaseTask(product),
		gen:      g,
		product:  product,
		opts:     opts,
	}
}

func (t *productTask) Execute(ctx context.Context) error {
	refresh, summary, err := t.run(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refresh, t.summary, t.err = refresh, summary, err
	return err
}

func (t *productTask) run(ctx context.Context) (*models.RefreshResult, *models.TimePeriodOverview, error) {
	logger := t.gen.logger.With(zap.String("product", t.product))

	opened, err := t.gen.open(ctx)
	if err != nil {
		logger.Error("Failed to open summary store", zap.Error(err))
		return nil, nil, err
	}
	defer opened.release()
	store := opened.store

	logger.Info("Refreshing product")
	refresh, err := store.RefreshProduct(ctx, t.product, t.opts.RefreshOlderThan, t.opts.ForceExtents)
	if err != nil {
		logger.Error("Product refresh failed", zap.Error(err))
		return nil, nil, err
	}

	var summary *models.TimePeriodOverview
	if t.opts.ForceSummaries || !refresh.Skipped {
		logger.Info("Regenerating summaries")
		summary, err = store.Regenerate(ctx, t.product, models.AllTime())
	} else {
		summary, err = store.GetOrUpdate(ctx, t.product, models.AllTime())
	}
	if err != nil {
		logger.Error("Summary generation failed", zap.Error(err))
		return refresh, nil, err
	}

	logger.Info("Product generated",
		zap.Bool("refresh_skipped", refresh.Skipped),
		zap.Int("dataset_count", summary.DatasetCount))
	return refresh, summary, nil
}

func (t *productTask) lastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err == nil {
		return errors.New("product task failed")
	}
	return t.err
}

func (t *productTask) outcome(err error) ProductOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	o := ProductOutcome{Product: t.product, Refresh: t.refresh, Err: err}
	if err == nil {
		o.Summary = t.summary
	}
	return o
}
