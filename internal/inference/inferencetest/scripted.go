// Package inferencetest provides a scripted inference.Generator for tests.
package inferencetest

import (
	"context"
	"sync"

	"horse.fit/fusion/internal/inference"
)

// Scripted answers each task from a queue of replies. Once a queue is drained
// its last reply repeats. Respond, when set, is consulted first; returning ok=false
// falls through to the queues.
type Scripted struct {
	mu      sync.Mutex
	replies map[inference.Task][]string
	last    map[inference.Task]string
	errs    map[inference.Task]error
	calls   []inference.Request

	Respond func(req inference.Request) (reply string, ok bool)
}

func NewScripted() *Scripted {
	return &Scripted{
		replies: map[inference.Task][]string{},
		last:    map[inference.Task]string{},
		errs:    map[inference.Task]error{},
	}
}

// On queues replies for a task.
func (s *Scripted) On(task inference.Task, replies ...string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[task] = append(s.replies[task], replies...)
	return s
}

// Fail makes every call for task return err.
func (s *Scripted) Fail(task inference.Task, err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[task] = err
	return s
}

func (s *Scripted) Generate(ctx context.Context, req inference.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.calls = append(s.calls, req)
	respond := s.Respond
	s.mu.Unlock()

	if respond != nil {
		if reply, ok := respond(req); ok {
			return reply, nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[req.Task]; err != nil {
		return "", err
	}
	queue := s.replies[req.Task]
	if len(queue) == 0 {
		if reply, ok := s.last[req.Task]; ok {
			return reply, nil
		}
		return "", inference.ErrEmptyResponse
	}
	s.replies[req.Task] = queue[1:]
	s.last[req.Task] = queue[0]
	return queue[0], nil
}

// Calls returns the number of calls, optionally for one task only.
func (s *Scripted) Calls(tasks ...inference.Task) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(tasks) == 0 {
		return len(s.calls)
	}
	n := 0
	for _, call := range s.calls {
		for _, task := range tasks {
			if call.Task == task {
				n++
			}
		}
	}
	return n
}

// Requests returns a copy of every request seen so far.
func (s *Scripted) Requests() []inference.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inference.Request(nil), s.calls...)
}
