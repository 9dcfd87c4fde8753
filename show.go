package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/opendatacube/cubedash-engine/pkg/config"
	"github.com/opendatacube/cubedash-engine/pkg/models"
	"github.com/opendatacube/cubedash-engine/pkg/region"
	"github.com/opendatacube/cubedash-engine/pkg/services"
)

type showOptions struct {
	noCache bool
	output  string
	product string
	period  models.Period
}

func parseShowFlags(args []string, output io.Writer) (*showOptions, error) {
	opts := &showOptions{}
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintln(output, "usage: cubedash-engine show [flags] product [year [month [day]]]")
		fs.PrintDefaults()
	}
	fs.BoolVar(&opts.noCache, "no-cache", false, "Recompute the summary instead of reading the stored one")
	fs.StringVar(&opts.output, "o", "text", "Output format: text or yaml")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch opts.output {
	case "text", "yaml":
	default:
		return nil, fmt.Errorf("unknown output format %q", opts.output)
	}

	rest := fs.Args()
	if len(rest) < 1 || len(rest) > 4 {
		fs.Usage()
		return nil, errors.New("expected a product and up to three period values")
	}
	opts.product = rest[0]

	var parts [3]*int
	for i, s := range rest[1:] {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", models.ErrInvalidPeriod, s)
		}
		parts[i] = &n
	}
	period, err := models.ParsePeriod(parts[0], parts[1], parts[2])
	if err != nil {
		return nil, err
	}
	opts.period = period
	return opts, nil
}

// showOutput is the yaml document printed by show -o yaml.
type showOutput struct {
	View    services.SummaryView `yaml:",inline"`
	Seconds float64              `yaml:"seconds"`
}

// runShow prints the summary of one product period.
func runShow(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string, out io.Writer) int {
	opts, err := parseShowFlags(args, os.Stderr)
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

	db, err := connect(ctx, cfg, "cubedash-show")
	if err != nil {
		logger.Error("Failed to connect to database", zap.Error(err))
		return exitConfigUnavailable
	}
	defer db.Close()

	store, err := services.OpenSummaryStore(ctx, db, loc, logger)
	if err != nil {
		if code, ok := schemaExitCode(err); ok {
			return code
		}
		logger.Error("Failed to open summary store", zap.Error(err))
		return 1
	}
	defer store.Close()

	info, err := store.ProductRegionInfo(ctx, opts.product)
	if err != nil {
		userMessage("%v", err)
		return 1
	}

	start := time.Now()
	var summary *models.TimePeriodOverview
	if opts.noCache {
		summary, err = store.Update(ctx, opts.product, opts.period, false)
	} else {
		summary, err = store.GetOrUpdate(ctx, opts.product, opts.period)
	}
	if err != nil {
		logger.Error("Failed to compute summary", zap.Error(err))
		return 1
	}
	elapsed := time.Since(start)
	if summary == nil {
		summary = models.EmptyOverview()
	}

	if opts.output == "yaml" {
		view, err := services.NewSummaryView(opts.product, opts.period, summary, info)
		if err != nil {
			logger.Warn("Dropping unreadable footprint", zap.Error(err))
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(showOutput{View: *view, Seconds: elapsed.Seconds()}); err != nil {
			logger.Error("Failed to write yaml", zap.Error(err))
			return 1
		}
		_ = enc.Close()
		return 0
	}

	printSummary(out, opts.product, opts.period, summary, elapsed, info)
	return 0
}

func printSummary(out io.Writer, product string, period models.Period, summary *models.TimePeriodOverview, elapsed time.Duration, info region.Info) {
	fmt.Fprintf(out, "%d %s datasets for %s\n", summary.DatasetCount, product, period)
	if summary.SizeBytes != nil {
		fmt.Fprintln(out, humanize.IBytes(uint64(*summary.SizeBytes)))
	}
	fmt.Fprintf(out, "%.2f seconds\n\n", elapsed.Seconds())

	if info != nil && len(summary.RegionDatasetCounts) > 0 {
		fmt.Fprintln(out, info.Description())
		printCountTable(out, summary.RegionDatasetCounts)
	}
}

// printCountTable draws "x_y" region counts as a grid, x across and y down.
// Codes of any other shape are listed one per line instead.
func printCountTable(out io.Writer, counts map[string]int) {
	type cell struct{ x, y int }
	cells := make(map[cell]int, len(counts))
	for code, n := range counts {
		xs, ys, ok := strings.Cut(code, "_")
		x, errX := strconv.Atoi(xs)
		y, errY := strconv.Atoi(ys)
		if !ok || errX != nil || errY != nil {
			printCountList(out, counts)
			return
		}
		cells[cell{x, y}] = n
	}
	if len(cells) == 0 {
		return
	}

	first := true
	var minX, maxX, minY, maxY, minCount, maxCount int
	for c, n := range cells {
		if first {
			minX, maxX, minY, maxY, minCount, maxCount = c.x, c.x, c.y, c.y, n, n
			first = false
			continue
		}
		minX, maxX = min(minX, c.x), max(maxX, c.x)
		minY, maxY = min(minY, c.y), max(maxY, c.y)
		minCount, maxCount = min(minCount, n), max(maxCount, n)
	}

	// Negative coordinates can be the widest numbers.
	width := 0
	for _, v := range []int{minX, maxX, minY, maxY, minCount, maxCount} {
		width = max(width, len(strconv.Itoa(v)))
	}
	blank := strings.Repeat(" ", width+1)

	var b strings.Builder
	b.WriteString(blank)
	for x := minX; x <= maxX; x++ {
		fmt.Fprintf(&b, "%*d ", width, x)
	}
	b.WriteString("\n")
	for y := minY; y <= maxY; y++ {
		fmt.Fprintf(&b, "%*d ", width, y)
		for x := minX; x <= maxX; x++ {
			if n := cells[cell{x, y}]; n != 0 {
				fmt.Fprintf(&b, "%*d ", width, n)
			} else {
				b.WriteString(blank)
			}
		}
		b.WriteString("\n")
	}
	fmt.Fprint(out, b.String())
}

func printCountList(out io.Writer, counts map[string]int) {
	codes := make([]string, 0, len(counts))
	for code := range counts {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		fmt.Fprintf(out, "%s\t%d\n", code, counts[code])
	}
}
