package scheduler

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/fusion/internal/db"
	"horse.fit/fusion/internal/ingest"
)

type recordingRunner struct {
	mu    sync.Mutex
	types []string
	err   error
}

func (r *recordingRunner) RunAll(_ context.Context, sourceType string) ([]ingest.BatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, sourceType)
	return nil, r.err
}

func TestIngestJobsOnePerSourceType(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{}
	jobs := IngestJobs(runner, map[string]string{
		db.SourceTypeWebsite:  "*/15 * * * *",
		db.SourceTypeTelegram: "*/5 * * * *",
		"disabled":            "  ",
	})
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
	if jobs[0].Name != "ingest-telegram" || jobs[1].Name != "ingest-website" {
		t.Fatalf("unexpected job names %q, %q", jobs[0].Name, jobs[1].Name)
	}

	s := New(zerolog.Nop())
	for _, job := range jobs {
		if err := s.Add(job); err != nil {
			t.Fatalf("Add(%s) error = %v", job.Name, err)
		}
	}
	if got := s.Jobs(); !reflect.DeepEqual(got, []string{"ingest-telegram", "ingest-website"}) {
		t.Fatalf("Jobs() = %v", got)
	}

	if err := s.Trigger("ingest-website"); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	if err := s.Trigger("ingest-telegram"); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	if !reflect.DeepEqual(runner.types, []string{db.SourceTypeWebsite, db.SourceTypeTelegram}) {
		t.Fatalf("runner saw %v", runner.types)
	}
}

func TestAddValidates(t *testing.T) {
	t.Parallel()

	s := New(zerolog.Nop())
	noop := func(context.Context) error { return nil }
	if err := s.Add(Job{Name: "bad", Spec: "every now and then", Run: noop}); err == nil {
		t.Fatalf("expected parse error")
	}
	if err := s.Add(Job{Name: "", Spec: "@hourly", Run: noop}); err == nil {
		t.Fatalf("expected missing name error")
	}
	if err := s.Add(Job{Name: "nil", Spec: "@hourly"}); err == nil {
		t.Fatalf("expected missing run func error")
	}
	if err := s.Add(Job{Name: "ok", Spec: "@hourly", Run: noop}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := s.Add(Job{Name: "ok", Spec: "@daily", Run: noop}); err == nil {
		t.Fatalf("expected duplicate name error")
	}
	if err := s.Trigger("missing"); err == nil {
		t.Fatalf("expected unknown job error")
	}
}

func TestJobFailureAndPanicAreContained(t *testing.T) {
	t.Parallel()

	s := New(zerolog.Nop())
	if err := s.Add(Job{Name: "fails", Spec: "@hourly", Run: func(context.Context) error { return errors.New("boom") }}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := s.Add(Job{Name: "panics", Spec: "@hourly", Run: func(context.Context) error { panic("bad job") }}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := s.Trigger("fails"); err != nil {
		t.Fatalf("Trigger(fails) error = %v", err)
	}
	if err := s.Trigger("panics"); err != nil {
		t.Fatalf("Trigger(panics) error = %v", err)
	}
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	t.Parallel()

	s := New(zerolog.Nop())
	started := make(chan struct{})
	release := make(chan struct{})
	var (
		mu   sync.Mutex
		runs int
	)
	err := s.Add(Job{Name: "slow", Spec: "@hourly", Run: func(context.Context) error {
		mu.Lock()
		runs++
		first := runs == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
		}
		return nil
	}})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = s.Trigger("slow")
		close(done)
	}()
	<-started
	if err := s.Trigger("slow"); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	close(release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("first run did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	if runs != 1 {
		t.Fatalf("runs = %d, want 1 (second trigger skipped)", runs)
	}
}

func TestCanceledContextStopsNewRuns(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{}
	s := New(zerolog.Nop())
	for _, job := range IngestJobs(runner, map[string]string{db.SourceTypeWebsite: "@every 1h"}) {
		if err := s.Add(job); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()
	if err := s.Trigger("ingest-website"); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	s.Stop()
	if len(runner.types) != 0 {
		t.Fatalf("job ran after cancellation: %v", runner.types)
	}
}
