// Package inference talks to the LLM service every engine depends on. The
// service accepts a prompt with generation options and returns plain text;
// callers pull a JSON object out of that text and validate its shape.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/fusion/internal/globaltime"
	"horse.fit/fusion/internal/metrics"
)

const (
	DefaultEndpoint        = "http://127.0.0.1:11434"
	DefaultModel           = "qwen2.5:7b-instruct"
	DefaultClassifyTimeout = 60 * time.Second
	DefaultGenerateTimeout = 180 * time.Second
	maxResponseBytes       = 4 << 20
)

// Task names the kind of call. It drives the timeout budget, cache policy and
// metric labels.
type Task string

const (
	TaskSimilarity Task = "similarity"
	TaskDifference Task = "difference"
	TaskGenerate   Task = "generate"
	TaskMerge      Task = "merge"
	TaskClassify   Task = "classify"
)

// Long reports whether the task gets the generation budget rather than the
// shorter judgment budget.
func (t Task) Long() bool {
	return t == TaskGenerate || t == TaskMerge
}

// Options are the generation knobs the service understands.
type Options struct {
	Temperature   float64
	MaxTokens     int
	ContextWindow int
	JSON          bool
}

type Request struct {
	Task    Task
	Prompt  string
	Options Options
}

// Generator is the single capability the engines consume.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Endpoint is one inference target.
type Endpoint struct {
	URL   string
	Model string
}

type ClientOptions struct {
	Primary         Endpoint
	Fallback        *Endpoint
	ClassifyTimeout time.Duration
	GenerateTimeout time.Duration
	HTTPClient      *http.Client
}

// Client calls an Ollama-style /api/generate endpoint and switches to one
// fallback endpoint when the primary fails transiently or replies with
// something unusable.
type Client struct {
	primary         resolvedEndpoint
	fallback        *resolvedEndpoint
	classifyTimeout time.Duration
	generateTimeout time.Duration
	http            *http.Client
	logger          zerolog.Logger
}

type resolvedEndpoint struct {
	role  string
	url   string
	model string
}

func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	opts = normalizeClientOptions(opts)
	client := &Client{
		primary: resolvedEndpoint{
			role:  "primary",
			url:   generateURL(opts.Primary.URL),
			model: opts.Primary.Model,
		},
		classifyTimeout: opts.ClassifyTimeout,
		generateTimeout: opts.GenerateTimeout,
		http:            opts.HTTPClient,
		logger:          logger,
	}
	if opts.Fallback != nil {
		client.fallback = &resolvedEndpoint{
			role:  "fallback",
			url:   generateURL(opts.Fallback.URL),
			model: opts.Fallback.Model,
		}
	}
	return client
}

func normalizeClientOptions(opts ClientOptions) ClientOptions {
	if strings.TrimSpace(opts.Primary.URL) == "" {
		opts.Primary.URL = DefaultEndpoint
	}
	opts.Primary.Model = strings.TrimSpace(opts.Primary.Model)
	if opts.Primary.Model == "" {
		opts.Primary.Model = DefaultModel
	}
	if opts.Fallback != nil {
		fb := *opts.Fallback
		fb.URL = strings.TrimSpace(fb.URL)
		fb.Model = strings.TrimSpace(fb.Model)
		switch {
		case fb.URL == "" && fb.Model == "":
			opts.Fallback = nil
		default:
			if fb.URL == "" {
				fb.URL = opts.Primary.URL
			}
			if fb.Model == "" {
				fb.Model = opts.Primary.Model
			}
			opts.Fallback = &fb
		}
	}
	if opts.ClassifyTimeout <= 0 {
		opts.ClassifyTimeout = DefaultClassifyTimeout
	}
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = DefaultGenerateTimeout
	}
	if opts.HTTPClient == nil {
		// Per-call deadlines come from the request context.
		opts.HTTPClient = &http.Client{}
	}
	return opts
}

// Model returns the primary model name; the cache keys on it.
func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.primary.model
}

// Generate sends the prompt and returns the raw response text. With
// Options.JSON set, a reply that carries no JSON object counts as a failure and
// triggers the fallback endpoint.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if c == nil {
		return "", fmt.Errorf("inference client is nil")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return "", fmt.Errorf("prompt is required")
	}

	text, err := c.generateOnce(ctx, c.primary, req)
	if err == nil {
		return text, nil
	}
	if c.fallback == nil || !shouldFallback(err) || ctx.Err() != nil {
		return "", err
	}

	c.logger.Warn().
		Err(err).
		Str("task", string(req.Task)).
		Str("failure_kind", string(Classify(err))).
		Str("fallback_model", c.fallback.model).
		Msg("primary inference failed, trying fallback")

	text, fbErr := c.generateOnce(ctx, *c.fallback, req)
	if fbErr != nil {
		return "", fmt.Errorf("fallback after %v: %w", err, fbErr)
	}
	return text, nil
}

func (c *Client) generateOnce(ctx context.Context, target resolvedEndpoint, req Request) (string, error) {
	timeout := c.classifyTimeout
	if req.Task.Long() {
		timeout = c.generateTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := globaltime.Now()
	text, err := c.post(callCtx, target, req)
	metrics.RecordInferenceCall(string(req.Task), target.role, globaltime.Since(started))
	if err != nil {
		metrics.RecordInferenceFailure(string(req.Task), string(Classify(err)))
		return "", err
	}
	if req.Options.JSON {
		if _, extractErr := ExtractJSON(text); extractErr != nil {
			metrics.RecordInferenceFailure(string(req.Task), string(FailureMalformed))
			return "", extractErr
		}
	}
	return text, nil
}

func (c *Client) post(ctx context.Context, target resolvedEndpoint, req Request) (string, error) {
	payload := generateRequest{
		Model:  target.model,
		Prompt: req.Prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: req.Options.Temperature,
			NumPredict:  req.Options.MaxTokens,
			NumCtx:      req.Options.ContextWindow,
		},
	}
	if req.Options.JSON {
		payload.Format = "json"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal inference request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build inference request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send inference request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read inference response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
		var errPayload generateErrorResponse
		if json.Unmarshal(respBody, &errPayload) == nil && strings.TrimSpace(errPayload.Error) != "" {
			statusErr.Body = strings.TrimSpace(errPayload.Error)
		}
		return "", statusErr
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode envelope: %v", ErrMalformedResponse, err)
	}
	text := strings.TrimSpace(parsed.Response)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format,omitempty"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
	NumCtx      int     `json:"num_ctx,omitempty"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type generateErrorResponse struct {
	Error string `json:"error"`
}

func generateURL(raw string) string {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}

	parsed, err := url.Parse(endpoint)
	if err != nil || strings.TrimSpace(parsed.Host) == "" {
		return DefaultEndpoint + "/api/generate"
	}

	path := strings.TrimRight(parsed.Path, "/")
	switch {
	case strings.HasSuffix(path, "/api/generate"):
		parsed.Path = path
	case strings.HasSuffix(path, "/api"):
		parsed.Path = path + "/generate"
	default:
		parsed.Path = path + "/api/generate"
	}
	return parsed.String()
}
