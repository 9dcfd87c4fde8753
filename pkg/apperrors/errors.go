package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrUnknownProduct       = fmt.Errorf("unknown product: %w", ErrNotFound)
	ErrSchemaNotInitialised = errors.New("summary schema is not initialised")
	ErrSchemaOutdated       = errors.New("summary schema is out of date")
	ErrSummaryNotGenerated  = errors.New("summary has not been generated")
	ErrTooManyRequests      = errors.New("too many summary requests")

	// ErrPeriodOutOfRange is an empty period outside the product's time range.
	ErrPeriodOutOfRange = fmt.Errorf("no datasets, period is outside the product's time range: %w", ErrNotFound)
)
