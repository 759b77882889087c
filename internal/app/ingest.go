package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"horse.fit/fusion/internal/cli"
	"horse.fit/fusion/internal/db"
	"horse.fit/fusion/internal/ingest"
)

func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	sourceID := fs.Int64("source", 0, "Only ingest this source id")
	sourceType := fs.String("type", "", "Only ingest sources of this type (telegram or website)")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	kind := strings.ToLower(strings.TrimSpace(*sourceType))
	if err := validateSourceType(kind); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if *sourceID < 0 {
		fmt.Fprintln(os.Stderr, "--source must be a positive id")
		return 2
	}

	cfg, logger, code := loadRuntime(envLoader)
	if code != 0 {
		return code
	}

	ctx, cancel := signalContext(*timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	p := newPipeline(ctx, cfg, pool, logger)
	defer p.Close()

	var results []ingest.BatchResult
	if *sourceID > 0 {
		source, err := pool.GetSource(ctx, *sourceID)
		if err != nil {
			if errors.Is(err, db.ErrNoRows) {
				fmt.Fprintf(os.Stderr, "Source %d not found\n", *sourceID)
				return 1
			}
			fmt.Fprintf(os.Stderr, "Failed to load source: %v\n", err)
			return 1
		}
		result, runErr := p.ingest.RunSource(ctx, source)
		results = append(results, result)
		err = runErr
		printBatchResults(results)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
			return 1
		}
		return 0
	}

	results, err = p.ingest.RunAll(ctx, kind)
	printBatchResults(results)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		return 1
	}
	return 0
}

func runResume(args []string) int {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	limit := fs.Int("limit", ingest.DefaultResumeLimit, "Maximum number of items to re-drive")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}

	cfg, logger, code := loadRuntime(envLoader)
	if code != 0 {
		return code
	}

	ctx, cancel := signalContext(*timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	p := newPipeline(ctx, cfg, pool, logger)
	defer p.Close()

	result, err := p.ingest.ResumePending(ctx, *limit)
	fmt.Printf("resumed=%d failed=%d\n", result.Resumed, result.Failed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Resume failed: %v\n", err)
		return 1
	}
	return 0
}

func validateSourceType(kind string) error {
	switch kind {
	case "", db.SourceTypeTelegram, db.SourceTypeWebsite:
		return nil
	default:
		return fmt.Errorf("--type must be %s or %s", db.SourceTypeTelegram, db.SourceTypeWebsite)
	}
}

func printBatchResults(results []ingest.BatchResult) {
	for _, r := range results {
		fmt.Printf(
			"source_id=%d source=%q fetched=%d groups=%d processed=%d duplicates=%d too_short=%d empty=%d failed=%d cursor=%q\n",
			r.SourceID, r.SourceName, r.Fetched, r.Groups, r.Processed, r.Duplicates, r.TooShort, r.Empty, r.Failed, r.Cursor,
		)
	}
}

// signalContext is canceled by SIGINT/SIGTERM or after timeout, whichever
// comes first. Cancellation stops a batch between items.
func signalContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	timed, cancel := context.WithTimeout(ctx, timeout)
	return timed, func() {
		cancel()
		stop()
	}
}
