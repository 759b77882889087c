// Package scheduler runs ingestion passes on cron schedules, one schedule per
// source type, so slow Telegram polling never delays website feeds.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"horse.fit/fusion/internal/ingest"
)

// Job is one named schedule.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

type Scheduler struct {
	cron   *cron.Cron
	parser cron.Parser
	logger zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]cron.EntryID
}

func New(logger zerolog.Logger) *Scheduler {
	// Standard 5-field parser (minute hour day month weekday).
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cronLogger := cronLogAdapter{logger: logger}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		cron.WithLogger(cronLogger),
	)
	return &Scheduler{
		cron:    c,
		parser:  parser,
		logger:  logger,
		ctx:     context.Background(),
		entries: make(map[string]cron.EntryID),
	}
}

// Add registers a job. Names are unique.
func (s *Scheduler) Add(job Job) error {
	name := strings.TrimSpace(job.Name)
	if name == "" {
		return fmt.Errorf("job name is required")
	}
	if job.Run == nil {
		return fmt.Errorf("job %s has no run func", name)
	}
	schedule, err := s.parser.Parse(strings.TrimSpace(job.Spec))
	if err != nil {
		return fmt.Errorf("parse schedule for %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("job %s already scheduled", name)
	}
	id := s.cron.Schedule(schedule, cron.FuncJob(func() { s.run(name, job.Run) }))
	s.entries[name] = id
	return nil
}

func (s *Scheduler) run(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	s.logger.Debug().Str("job", name).Msg("scheduled job started")
	if err := fn(ctx); err != nil {
		s.logger.Error().Err(err).Str("job", name).Msg("scheduled job failed")
		return
	}
	s.logger.Debug().Str("job", name).Msg("scheduled job finished")
}

// Jobs lists the registered job names in order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Trigger runs a job now, through the same recover and skip-if-running chain
// as its schedule.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s is not scheduled", name)
	}
	entry := s.cron.Entry(id)
	if !entry.Valid() {
		return fmt.Errorf("job %s has no cron entry", name)
	}
	entry.WrappedJob.Run()
	return nil
}

// Start begins firing schedules. Jobs receive ctx and stop starting once it
// is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	count := len(s.entries)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info().Int("jobs", count).Msg("scheduler started")
}

// Stop prevents new runs and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
}

// Runner is the ingestion surface the jobs drive.
type Runner interface {
	RunAll(ctx context.Context, sourceType string) ([]ingest.BatchResult, error)
}

// IngestJobs builds one job per source type. Types with an empty spec are
// not scheduled.
func IngestJobs(runner Runner, schedules map[string]string) []Job {
	types := make([]string, 0, len(schedules))
	for sourceType := range schedules {
		types = append(types, sourceType)
	}
	sort.Strings(types)

	jobs := make([]Job, 0, len(types))
	for _, sourceType := range types {
		spec := strings.TrimSpace(schedules[sourceType])
		if spec == "" {
			continue
		}
		jobs = append(jobs, Job{
			Name: "ingest-" + sourceType,
			Spec: spec,
			Run: func(ctx context.Context) error {
				_, err := runner.RunAll(ctx, sourceType)
				return err
			},
		})
	}
	return jobs
}

// cronLogAdapter routes cron's own logging to zerolog.
type cronLogAdapter struct {
	logger zerolog.Logger
}

func (a cronLogAdapter) Info(msg string, keysAndValues ...any) {
	a.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (a cronLogAdapter) Error(err error, msg string, keysAndValues ...any) {
	a.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
