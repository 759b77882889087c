package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"horse.fit/fusion/internal/cli"
	"horse.fit/fusion/internal/db"
	"horse.fit/fusion/internal/httpapi"
	"horse.fit/fusion/internal/ingest"
	"horse.fit/fusion/internal/scheduler"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "", "Host interface to bind (default HTTP_HOST)")
	port := fs.Int("port", 0, "HTTP port (default HTTP_PORT)")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 120*time.Second, "HTTP write timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	noSchedule := fs.Bool("no-schedule", false, "Serve the admin API without running ingestion schedules")
	resumeOnStart := fs.Bool("resume", true, "Re-drive interrupted items before the first schedule fires")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *port < 0 || *port > 65535 {
		fmt.Fprintln(os.Stderr, "--port must be between 1 and 65535")
		return 2
	}

	cfg, logger, code := loadRuntime(envLoader)
	if code != 0 {
		return code
	}
	if *host == "" {
		*host = cfg.HTTPHost
	}
	if *port == 0 {
		*port = cfg.HTTPPort
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dbCancel()

	pool, err := db.NewPool(dbCtx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("serve failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		cancel()
	}()

	p := newPipeline(ctx, cfg, pool, logger)
	defer p.Close()

	if !*noSchedule {
		sched := scheduler.New(logger.With().Str("component", "scheduler").Logger())
		for _, job := range scheduler.IngestJobs(p.ingest, sourceSchedules(cfg)) {
			if err := sched.Add(job); err != nil {
				fmt.Fprintf(os.Stderr, "Invalid schedule: %v\n", err)
				return 2
			}
		}

		// Resume runs before the schedules start so no pass races it.
		if *resumeOnStart {
			result, err := p.ingest.ResumePending(ctx, ingest.DefaultResumeLimit)
			if err != nil {
				logger.Error().Err(err).Msg("resume on start failed")
			} else {
				logger.Info().Int("resumed", result.Resumed).Int("failed", result.Failed).Msg("resume on start finished")
			}
		}

		sched.Start(ctx)
		defer sched.Stop()
	}

	srv := httpapi.NewServer(p.categorizer, pool, logger, httpapi.Options{
		Host:            *host,
		Port:            *port,
		ReadTimeout:     *readTimeout,
		WriteTimeout:    *writeTimeout,
		ShutdownTimeout: *shutdownTimeout,
	})

	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Str("host", *host).Int("port", *port).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}

	return 0
}
