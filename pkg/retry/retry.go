package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Config defines retry behavior with exponential backoff
type Config struct {
	MaxRetries       int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	Multiplier       float64
	JitterFactor     float64 // 0.0-1.0, fraction of each delay added or removed at random
	MaxSameErrorType int     // consecutive failures of one kind before giving up early; 0 disables
}

// DefaultConfig suits index database queries: 3 retries from 100ms, capped at 5s.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       3,
		InitialDelay:     100 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		Multiplier:       2.0,
		JitterFactor:     0.1,
		MaxSameErrorType: 5,
	}
}

// backoff yields the successive waits of one retry loop.
type backoff struct {
	cfg  *Config
	next time.Duration
}

func newBackoff(cfg *Config) *backoff {
	return &backoff{cfg: cfg, next: cfg.InitialDelay}
}

// delay returns the current wait with jitter applied and grows the next one.
func (b *backoff) delay() time.Duration {
	d := b.next
	if b.cfg.JitterFactor > 0 {
		d += time.Duration(float64(d) * b.cfg.JitterFactor * (rand.Float64()*2 - 1))
	}
	b.next = time.Duration(float64(b.next) * b.cfg.Multiplier)
	if b.cfg.MaxDelay > 0 && b.next > b.cfg.MaxDelay {
		b.next = b.cfg.MaxDelay
	}
	return d
}

// wait sleeps for the next delay, or returns early with the context error.
func (b *backoff) wait(ctx context.Context) error {
	timer := time.NewTimer(b.delay())
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryableError is implemented by errors that declare their own retryability.
type RetryableError interface {
	error
	IsRetryable() bool
}

// IsRetryable determines if an error is transient and worth retrying.
// Bad SQL, constraint violations and missing objects are permanent.
//
// Errors implementing RetryableError decide for themselves. Postgres errors
// are classified by SQLSTATE, anything else by its message.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryableSQLState(pgErr.Code)
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientMessages {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

var transientMessages = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"timeout",
	"timed out",
	"temporary failure",
	"too many connections",
	"deadlock",
	"network is unreachable",
	"unexpected eof",
	"conn closed",
	// the breaker may be half-open by the next attempt
	"circuit breaker is open",
}

// retryableSQLState reports whether a Postgres SQLSTATE describes a transient failure.
func retryableSQLState(code string) bool {
	switch {
	case strings.HasPrefix(code, "08"): // connection_exception
		return true
	case code == "40001", code == "40P01": // serialization_failure, deadlock_detected
		return true
	case code == "53300": // too_many_connections
		return true
	case code == "57P01", code == "57P02", code == "57P03": // admin/crash shutdown, cannot_connect_now
		return true
	}
	return false
}

// errorKind groups errors so repeated failures of one kind can be detected.
func errorKind(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return "sqlstate:" + pgErr.Code
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"):
		return "connection"
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return "timeout"
	case strings.Contains(msg, "broken pipe"):
		return "broken_pipe"
	case strings.Contains(msg, "deadlock"):
		return "deadlock"
	case strings.Contains(msg, "circuit breaker"):
		return "breaker"
	}
	return "unknown"
}

// DoIfRetryable runs fn until it succeeds, fails permanently, or the retries
// run out. The same kind of error MaxSameErrorType times in a row is treated
// as permanent. A nil cfg uses DefaultConfig.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	b := newBackoff(cfg)
	var lastKind string
	sameKind := 0

	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}

		kind := errorKind(err)
		if kind == lastKind {
			sameKind++
		} else {
			lastKind, sameKind = kind, 1
		}
		if cfg.MaxSameErrorType > 0 && sameKind >= cfg.MaxSameErrorType {
			return fmt.Errorf("repeated error (%d times, type=%s): %w", sameKind, kind, err)
		}

		if attempt >= cfg.MaxRetries {
			return err
		}
		if werr := b.wait(ctx); werr != nil {
			return werr
		}
	}
}
