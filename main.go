package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/opendatacube/cubedash-engine/pkg/config"
	"github.com/opendatacube/cubedash-engine/pkg/database"
	"github.com/opendatacube/cubedash-engine/pkg/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

// Exit codes besides the per-command ones.
const (
	exitUsage             = 2
	exitSchemaMissing     = 255
	exitSchemaOutdated    = 254
	exitConfigUnavailable = 78

	// maxFailureExitCode caps gen's failure count below the schema codes.
	// Counts of 2 and 78 still read the same as a usage or config error;
	// the last stderr line tells them apart.
	maxFailureExitCode = 253
)

const usage = `usage: cubedash-engine <command> [flags] [args]

commands:
  gen    refresh products and generate their summaries
  show   print the summary of a product period
  serve  start the read API
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(exitUsage)
	}

	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(exitConfigUnavailable)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(exitConfigUnavailable)
	}
	defer func() { _ = logger.Sync() }()

	logger.Debug("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var code int
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "gen":
		code = runGen(ctx, cfg, logger, args)
	case "show":
		code = runShow(ctx, cfg, logger, args, os.Stdout)
	case "serve":
		code = runServe(ctx, cfg, logger, args)
	case "version":
		fmt.Println(Version)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		code = exitUsage
	}

	stop()
	_ = logger.Sync()
	os.Exit(code)
}

// connect opens a pool against the configured index database.
func connect(ctx context.Context, cfg *config.Config, applicationName string) (*database.DB, error) {
	return database.NewConnection(ctx, &database.Config{
		URL:              cfg.Database.ConnectionString(),
		ApplicationName:  applicationName,
		MaxConnections:   cfg.Database.MaxConnections,
		StatementTimeout: cfg.Database.StatementTimeout,
	})
}

// userMessage writes an operator-facing line to stderr.
func userMessage(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
