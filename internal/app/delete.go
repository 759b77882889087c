package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/fusion/internal/cli"
	"horse.fit/fusion/internal/db"
)

func runDeleteItem(args []string) int {
	fs := flag.NewFlagSet("delete-item", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	itemID := fs.Int64("id", 0, "Item id to soft delete")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *itemID <= 0 {
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

	storyNumber, err := pool.SoftDeleteItem(ctx, *itemID)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			fmt.Fprintf(os.Stderr, "Item %d not found\n", *itemID)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Delete failed: %v\n", err)
		return 1
	}
	logger.Info().Int64("item_id", *itemID).Msg("item soft deleted")

	if storyNumber == nil {
		fmt.Printf("item_id=%d deleted story_number=none\n", *itemID)
		return 0
	}

	p := newPipeline(ctx, cfg, pool, logger)
	defer p.Close()

	leaderID, err := p.grouper.PromoteLeader(ctx, *storyNumber)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			fmt.Printf("item_id=%d deleted story_number=%d leader=none\n", *itemID, *storyNumber)
			return 0
		}
		fmt.Fprintf(os.Stderr, "Leader repair failed: %v\n", err)
		return 1
	}
	fmt.Printf("item_id=%d deleted story_number=%d leader_item_id=%d\n", *itemID, *storyNumber, leaderID)
	return 0
}
