package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/fusion/internal/categorize"
	"horse.fit/fusion/internal/cli"
	"horse.fit/fusion/internal/db"
)

func runClassify(args []string) int {
	fs := flag.NewFlagSet("classify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	title := fs.String("title", "", "Title to classify")
	content := fs.String("content", "", "Content to classify")
	timeout := fs.Duration("timeout", 3*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if strings.TrimSpace(*title) == "" && strings.TrimSpace(*content) == "" {
		fmt.Fprintln(os.Stderr, "--title or --content is required")
		return 2
	}

	cfg, logger, code := loadRuntime(envLoader)
	if code != 0 {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
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

	result, err := p.categorizer.Classify(ctx, strings.TrimSpace(*title), strings.TrimSpace(*content))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Classification failed: %v\n", err)
		return 1
	}
	return printJSON(result)
}

func runReclassify(args []string) int {
	fs := flag.NewFlagSet("reclassify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	contentID := fs.Int64("id", 0, "Canonical content id")
	timeout := fs.Duration("timeout", 3*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *contentID <= 0 {
		fmt.Fprintln(os.Stderr, "--id is required")
		return 2
	}

	cfg, logger, code := loadRuntime(envLoader)
	if code != 0 {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
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

	result, err := p.categorizer.ReclassifyContent(ctx, *contentID)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			fmt.Fprintf(os.Stderr, "Content %d not found\n", *contentID)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Reclassification failed: %v\n", err)
		return 1
	}
	return printJSON(result)
}

func printJSON(result categorize.Result) int {
	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode result: %v\n", err)
		return 1
	}
	fmt.Println(string(encoded))
	return 0
}
