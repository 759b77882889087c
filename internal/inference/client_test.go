package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func ollamaHandler(t *testing.T, reply string, seen *generateRequest, calls *int32) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		if r.URL.Path != "/api/generate" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if seen != nil {
			*seen = req
		}
		_ = json.NewEncoder(w).Encode(generateResponse{Model: req.Model, Response: reply, Done: true})
	}
}

func TestClientGenerate_SendsOptions(t *testing.T) {
	t.Parallel()

	var seen generateRequest
	srv := httptest.NewServer(ollamaHandler(t, `{"difference": 10, "has_new_information": false}`, &seen, nil))
	defer srv.Close()

	client := NewClient(ClientOptions{Primary: Endpoint{URL: srv.URL, Model: "m1"}}, zerolog.Nop())
	text, err := client.Generate(context.Background(), Request{
		Task:    TaskDifference,
		Prompt:  "compare",
		Options: Options{Temperature: 0.2, MaxTokens: 64, ContextWindow: 4096, JSON: true},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != `{"difference": 10, "has_new_information": false}` {
		t.Fatalf("unexpected text %q", text)
	}
	if seen.Model != "m1" || seen.Format != "json" || seen.Stream {
		t.Fatalf("unexpected request envelope: %+v", seen)
	}
	if seen.Options.NumPredict != 64 || seen.Options.NumCtx != 4096 || seen.Options.Temperature != 0.2 {
		t.Fatalf("unexpected options: %+v", seen.Options)
	}
}

func TestClientGenerate_FallsBackOnServerError(t *testing.T) {
	t.Parallel()

	var primaryCalls int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&primaryCalls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"model loading"}`))
	}))
	defer primary.Close()

	var seen generateRequest
	fallback := httptest.NewServer(ollamaHandler(t, `{"ok": true}`, &seen, nil))
	defer fallback.Close()

	client := NewClient(ClientOptions{
		Primary:  Endpoint{URL: primary.URL, Model: "big"},
		Fallback: &Endpoint{URL: fallback.URL, Model: "small"},
	}, zerolog.Nop())

	text, err := client.Generate(context.Background(), Request{Task: TaskSimilarity, Prompt: "p", Options: Options{JSON: true}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != `{"ok": true}` {
		t.Fatalf("unexpected text %q", text)
	}
	if atomic.LoadInt32(&primaryCalls) != 1 || seen.Model != "small" {
		t.Fatalf("expected one primary call then fallback model, got calls=%d model=%q", primaryCalls, seen.Model)
	}
}

func TestClientGenerate_FallsBackOnMalformedJSON(t *testing.T) {
	t.Parallel()

	primary := httptest.NewServer(ollamaHandler(t, "I think they are the same.", nil, nil))
	defer primary.Close()
	fallback := httptest.NewServer(ollamaHandler(t, `{"same_story": true, "confidence": 0.8}`, nil, nil))
	defer fallback.Close()

	client := NewClient(ClientOptions{
		Primary:  Endpoint{URL: primary.URL, Model: "a"},
		Fallback: &Endpoint{URL: fallback.URL},
	}, zerolog.Nop())

	text, err := client.Generate(context.Background(), Request{Task: TaskSimilarity, Prompt: "p", Options: Options{JSON: true}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != `{"same_story": true, "confidence": 0.8}` {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestClientGenerate_NoFallbackOnClientError(t *testing.T) {
	t.Parallel()

	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad prompt"}`))
	}))
	defer primary.Close()

	var fallbackCalls int32
	fallback := httptest.NewServer(ollamaHandler(t, `{}`, nil, &fallbackCalls))
	defer fallback.Close()

	client := NewClient(ClientOptions{
		Primary:  Endpoint{URL: primary.URL},
		Fallback: &Endpoint{URL: fallback.URL},
	}, zerolog.Nop())

	_, err := client.Generate(context.Background(), Request{Task: TaskClassify, Prompt: "p"})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusBadRequest || statusErr.Body != "bad prompt" {
		t.Fatalf("expected 400 status error, got %v", err)
	}
	if Classify(err) != FailureHTTPStatus {
		t.Fatalf("unexpected failure kind %q", Classify(err))
	}
	if atomic.LoadInt32(&fallbackCalls) != 0 {
		t.Fatalf("fallback should not be called for client errors")
	}
}

func TestClientGenerate_ClassifyTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{
		Primary:         Endpoint{URL: srv.URL},
		ClassifyTimeout: 50 * time.Millisecond,
		GenerateTimeout: 5 * time.Second,
	}, zerolog.Nop())

	_, err := client.Generate(context.Background(), Request{Task: TaskSimilarity, Prompt: "p"})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if kind := Classify(err); kind != FailureTimeout {
		t.Fatalf("expected timeout kind, got %q (%v)", kind, err)
	}
}

func TestClientGenerate_ConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	client := NewClient(ClientOptions{Primary: Endpoint{URL: addr}}, zerolog.Nop())
	_, err := client.Generate(context.Background(), Request{Task: TaskClassify, Prompt: "p"})
	if kind := Classify(err); kind != FailureConnectionRefused {
		t.Fatalf("expected connection_refused, got %q (%v)", kind, err)
	}
	if !IsTransient(err) {
		t.Fatalf("refused connections are transient")
	}
}

func TestGenerateURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"http://host:11434":              "http://host:11434/api/generate",
		"http://host:11434/":             "http://host:11434/api/generate",
		"host:11434":                     "http://host:11434/api/generate",
		"http://host/api":                "http://host/api/generate",
		"https://gw.example/api/generate": "https://gw.example/api/generate",
	}
	for in, want := range cases {
		if got := generateURL(in); got != want {
			t.Fatalf("generateURL(%q) = %q want %q", in, got, want)
		}
	}
}
