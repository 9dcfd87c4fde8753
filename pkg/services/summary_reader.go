package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/opendatacube/cubedash-engine/pkg/apperrors"
	"github.com/opendatacube/cubedash-engine/pkg/metrics"
	"github.com/opendatacube/cubedash-engine/pkg/models"
)

// SummaryReader serves summaries to the read APIs. Stored summaries are
// returned directly; missing ones are generated on demand, throttled.
type SummaryReader struct {
	store   SummaryStore
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewSummaryReader creates a SummaryReader. A nil limiter disables on-demand generation.
func NewSummaryReader(store SummaryStore, limiter *rate.Limiter, logger *zap.Logger) *SummaryReader {
	return &SummaryReader{
		store:   store,
		limiter: limiter,
		logger:  logger.Named("summary-reader"),
	}
}

// NewLimiter returns a limiter allowing perSecond generations with the given
// burst, or nil when perSecond is zero.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Store exposes the underlying store for read-only listing.
func (r *SummaryReader) Store() SummaryStore {
	return r.store
}

// Summary returns the product's summary of period, generating it when it was
// never stored. Days are always computed. The summary is nil when the period
// is empty and lies outside the product's time range.
func (r *SummaryReader) Summary(ctx context.Context, productName string, period models.Period) (*models.TimePeriodOverview, error) {
	if productName != AllProducts {
		product, err := r.store.GetProductSummary(ctx, productName)
		if err != nil {
			return nil, err
		}
		if product == nil {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownProduct, productName)
		}
	}

	stored, err := r.store.Get(ctx, productName, period)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		return stored, nil
	}

	if r.limiter == nil {
		return nil, apperrors.ErrSummaryNotGenerated
	}
	if !r.limiter.Allow() {
		metrics.OnDemandSummaries.WithLabelValues("throttled").Inc()
		return nil, apperrors.ErrTooManyRequests
	}

	r.logger.Debug("Generating summary on demand",
		zap.String("product", productName),
		zap.String("period", period.String()))

	var summary *models.TimePeriodOverview
	if period.Type() == models.PeriodDay || productName == AllProducts {
		summary, err = r.store.Update(ctx, productName, period, false)
	} else {
		summary, err = r.store.GetOrUpdate(ctx, productName, period)
	}
	if err != nil {
		metrics.OnDemandSummaries.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.OnDemandSummaries.WithLabelValues("generated").Inc()
	return summary, nil
}
