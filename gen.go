package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/opendatacube/cubedash-engine/pkg/apperrors"
	"github.com/opendatacube/cubedash-engine/pkg/config"
	"github.com/opendatacube/cubedash-engine/pkg/database"
	"github.com/opendatacube/cubedash-engine/pkg/repositories"
	"github.com/opendatacube/cubedash-engine/pkg/services"
	"github.com/opendatacube/cubedash-engine/pkg/services/workqueue"
)

type genOptions struct {
	all                    bool
	jobs                   int
	forceRefresh           bool
	recreateDatasetExtents bool
	init                   bool
	drop                   bool
	products               []string
}

func parseGenFlags(args []string, defaultJobs int, output io.Writer) (*genOptions, error) {
	opts := &genOptions{}
	fs := flag.NewFlagSet("gen", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintln(output, "usage: cubedash-engine gen [flags] [products...]")
		fs.PrintDefaults()
	}
	fs.BoolVar(&opts.all, "all", false, "Refresh all products in the datacube, rather than the specified list")
	fs.IntVar(&opts.jobs, "jobs", defaultJobs, "Number of products generated concurrently")
	fs.IntVar(&opts.jobs, "j", defaultJobs, "Shorthand for --jobs")
	fs.BoolVar(&opts.forceRefresh, "force-refresh", false, "Refresh products and regenerate every summary, even when recently done")
	fs.BoolVar(&opts.recreateDatasetExtents, "recreate-dataset-extents", false, "Rebuild existing dataset extents rather than only adding new datasets")
	fs.BoolVar(&opts.init, "init", false, "Create or update the summary schema before generating")
	fs.BoolVar(&opts.drop, "drop", false, "Drop the summary schema and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.products = fs.Args()

	if opts.jobs < 1 {
		return nil, fmt.Errorf("--jobs must be at least 1, got %d", opts.jobs)
	}
	if !opts.drop && !opts.all && len(opts.products) == 0 {
		return nil, errors.New("specify products to generate, or --all")
	}
	return opts, nil
}

// runGen refreshes and summarises products. The exit code is the number of failed products.
func runGen(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string) int {
	opts, err := parseGenFlags(args, cfg.Generation.Jobs, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		userMessage("%v", err)
		return exitUsage
	}

	loc, err := cfg.Generation.Location()
	if err != nil {
		userMessage("%v", err)
		return exitConfigUnavailable
	}

	db, err := connect(ctx, cfg, database.ApplicationName+".setup")
	if err != nil {
		logger.Error("Failed to connect to database", zap.Error(err))
		return exitConfigUnavailable
	}
	defer db.Close()

	schema := database.NewSchema(db, logger)
	if opts.drop {
		userMessage("Dropping all summary tables from the database")
		if err := schema.DropAll(ctx); err != nil {
			logger.Error("Failed to drop summary schema", zap.Error(err))
			return 1
		}
		userMessage("Done.")
		return 0
	}

	if opts.init {
		userMessage("Initialising schema")
		if err := schema.Init(ctx); err != nil {
			logger.Error("Failed to initialise summary schema", zap.Error(err))
			return 1
		}
	} else if code, ok := checkSchema(ctx, schema, logger); !ok {
		return code
	}

	products, err := resolveProducts(ctx, repositories.NewCatalogRepository(db), opts)
	if err != nil {
		userMessage("%v", err)
		return exitUsage
	}

	genOpts := services.GenerateOptions{
		Jobs:             opts.jobs,
		RefreshOlderThan: cfg.Generation.RefreshOlderThan,
		ForceExtents:     opts.recreateDatasetExtents,
		ForceSummaries:   opts.forceRefresh,
		Retry:            workqueue.DefaultRetryConfig(),
	}
	genOpts.Retry.MaxRetries = cfg.Generation.MaxRetries
	if opts.forceRefresh {
		// Any refresh, however recent, is redone.
		genOpts.RefreshOlderThan = -time.Minute
	}

	userMessage("Updating %d products", len(products))
	gen := services.NewGenerator(storeFactory(cfg, loc, logger), logger)
	outcomes, failures := gen.Run(ctx, products, genOpts)
	for _, o := range outcomes {
		if o.Err != nil {
			userMessage("%s error (see log)", o.Product)
			continue
		}
		if o.Refresh != nil && o.Refresh.Unindexed > 0 {
			userMessage("%s done: (%d datasets, %d without extents)", o.Product, o.Summary.DatasetCount, o.Refresh.Unindexed)
			continue
		}
		userMessage("%s done: (%d datasets)", o.Product, o.Summary.DatasetCount)
	}
	userMessage("done. %d/%d generated, %d failures", len(products)-failures, len(products), failures)
	return failureExitCode(failures)
}

// failureExitCode reports a failure count as a process exit code. Exit
// statuses wrap at 256, so large counts are capped rather than passed through.
func failureExitCode(failures int) int {
	return min(max(failures, 0), maxFailureExitCode)
}

// checkSchema reports the exit code for a summary schema that cannot be used.
func checkSchema(ctx context.Context, schema *database.Schema, logger *zap.Logger) (int, bool) {
	err := schema.Check(ctx)
	if err == nil {
		return 0, true
	}
	if code, ok := schemaExitCode(err); ok {
		return code, false
	}
	logger.Error("Failed to check summary schema", zap.Error(err))
	return 1, false
}

// schemaExitCode tells the operator how to fix an unusable schema and returns
// the matching exit code. ok is false for any other error.
func schemaExitCode(err error) (int, bool) {
	switch {
	case errors.Is(err, apperrors.ErrSchemaNotInitialised):
		userMessage("No summary schema exists. Please rerun gen with --init to create one")
		return exitSchemaMissing, true
	case errors.Is(err, apperrors.ErrSchemaOutdated):
		userMessage("Summary schema is out of date. Please rerun gen with --init to apply updates.")
		return exitSchemaOutdated, true
	}
	return 0, false
}

// resolveProducts lists the products to generate: every catalog product for
// --all, else the named ones, which must all exist.
func resolveProducts(ctx context.Context, catalog repositories.CatalogRepository, opts *genOptions) ([]string, error) {
	if opts.all {
		products, err := catalog.ListProducts(ctx)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(products))
		for _, p := range products {
			names = append(names, p.Name)
		}
		sort.Strings(names)
		return names, nil
	}

	for _, name := range opts.products {
		p, err := catalog.GetProductByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("unknown product %q", name)
		}
	}
	return opts.products, nil
}

// storeFactory opens one pool and store per product, like separate worker processes would.
func storeFactory(cfg *config.Config, loc *time.Location, logger *zap.Logger) services.StoreFactory {
	return func(ctx context.Context) (services.SummaryStore, func(), error) {
		db, err := connect(ctx, cfg, database.ApplicationName)
		if err != nil {
			return nil, nil, err
		}
		store, err := services.OpenSummaryStore(ctx, db, loc, logger)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, func() {
			store.Close()
			db.Close()
		}, nil
	}
}
