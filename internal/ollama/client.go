// Package ollama is a small client for a locally hosted Ollama server.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultBaseURL         = "http://localhost:11434"
	DefaultModel           = "llama3.1"
	DefaultGenerateTimeout = 30 * time.Second
	DefaultStatusTimeout   = 5 * time.Second
	DefaultWaitMaxElapsed  = 60 * time.Second
)

var (
	// ErrUnavailable means the server refused or dropped the connection.
	ErrUnavailable = errors.New("ollama unavailable")
	// ErrTimeout means the server did not answer within the request timeout.
	ErrTimeout = errors.New("ollama timeout")
)

const (
	unavailableGuidance = "Cannot connect to Ollama at %s. Make sure Ollama is installed and running (ollama serve), then try again."
	timeoutGuidance     = "Ollama did not respond in time. The model may still be loading; wait a moment and try again, or pick a smaller model."
)

// Error carries a user-facing guidance message for a classified failure.
type Error struct {
	Kind     error
	Guidance string
	Err      error
}

func (e *Error) Error() string { return e.Guidance }

func (e *Error) Unwrap() []error { return []error{e.Kind, e.Err} }

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the /api/generate and /api/tags endpoints. Zero fields fall
// back to the package defaults.
type Client struct {
	BaseURL         string
	Model           string
	HTTP            HTTPClient
	GenerateTimeout time.Duration
	StatusTimeout   time.Duration
	WaitMaxElapsed  time.Duration
}

// Status is the result of CheckStatus.
type Status struct {
	Reachable      bool     `json:"reachable"`
	BaseURL        string   `json:"baseUrl"`
	Model          string   `json:"model"`
	ModelAvailable bool     `json:"modelAvailable"`
	Models         []string `json:"models"`
	Message        string   `json:"message,omitempty"`
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinking removes every <think>...</think> block and trims the rest.
func StripThinking(s string) string {
	return strings.TrimSpace(thinkBlock.ReplaceAllString(s, ""))
}

func (c *Client) baseURL() string {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		return DefaultBaseURL
	}
	return base
}

func (c *Client) model() string {
	if strings.TrimSpace(c.Model) == "" {
		return DefaultModel
	}
	return c.Model
}

func (c *Client) httpClient() HTTPClient {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Generate runs a non-streaming completion. Generation is never retried.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, orDefault(c.GenerateTimeout, DefaultGenerateTimeout))
	defer cancel()

	resp, err := c.postGenerate(ctx, prompt, false)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var out generateChunk
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", c.classify(fmt.Errorf("decode generate response: %w", err))
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama: %s", out.Error)
	}
	return StripThinking(out.Response), nil
}

// GenerateStream runs a streaming completion, handing each raw chunk to
// onChunk as it arrives. The returned text is the whole response with
// thinking blocks removed.
func (c *Client) GenerateStream(ctx context.Context, prompt string, onChunk func(string)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, orDefault(c.GenerateTimeout, DefaultGenerateTimeout))
	defer cancel()

	resp, err := c.postGenerate(ctx, prompt, true)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("ollama: %s", chunk.Error)
		}
		if chunk.Response != "" {
			full.WriteString(chunk.Response)
			if onChunk != nil {
				onChunk(chunk.Response)
			}
		}
		if chunk.Done {
			return StripThinking(full.String()), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", c.classify(err)
	}
	return "", fmt.Errorf("ollama stream ended before done: %w", io.ErrUnexpectedEOF)
}

func (c *Client) postGenerate(ctx context.Context, prompt string, stream bool) (*http.Response, error) {
	body, err := json.Marshal(generateRequest{Model: c.model(), Prompt: prompt, Stream: stream})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, c.classify(err)
	}
	if resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama generate: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return resp, nil
}

// ListModels returns the names of the locally installed models.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, orDefault(c.StatusTimeout, DefaultStatusTimeout))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, c.classify(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ollama tags: %s", resp.Status)
	}
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, c.classify(fmt.Errorf("decode tags: %w", err))
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// CheckStatus reports reachability and whether the configured model is
// installed. Transport failures are folded into the Status, not returned.
func (c *Client) CheckStatus(ctx context.Context) Status {
	st := Status{BaseURL: c.baseURL(), Model: c.model()}
	models, err := c.ListModels(ctx)
	if err != nil {
		st.Message = err.Error()
		return st
	}
	st.Reachable = true
	st.Models = models
	for _, name := range models {
		if modelMatches(name, st.Model) {
			st.ModelAvailable = true
			break
		}
	}
	if !st.ModelAvailable {
		st.Message = fmt.Sprintf("Model %s is not installed. Run: ollama pull %s", st.Model, st.Model)
	}
	return st
}

// modelMatches treats an untagged model name as ":latest" or any tag.
func modelMatches(installed, want string) bool {
	if installed == want {
		return true
	}
	if strings.Contains(want, ":") {
		return false
	}
	base, _, _ := strings.Cut(installed, ":")
	return base == want
}

// WaitReady polls /api/tags with exponential backoff until the server answers
// or WaitMaxElapsed passes. Only availability failures are retried.
func (c *Client) WaitReady(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = orDefault(c.WaitMaxElapsed, DefaultWaitMaxElapsed)
	return backoff.Retry(func() error {
		_, err := c.ListModels(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
}

// classify maps transport failures to ErrUnavailable or ErrTimeout; anything
// else is returned unchanged.
func (c *Client) classify(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return &Error{Kind: ErrTimeout, Guidance: timeoutGuidance, Err: err}
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET),
		strings.Contains(err.Error(), "connection refused"), strings.Contains(err.Error(), "connection reset"):
		return &Error{Kind: ErrUnavailable, Guidance: fmt.Sprintf(unavailableGuidance, c.baseURL()), Err: err}
	default:
		return err
	}
}
