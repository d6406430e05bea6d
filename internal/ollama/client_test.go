package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripThinking(t *testing.T) {
	assert.Equal(t, "Answer", StripThinking("<think>plan\nmore</think>\n Answer "))
	assert.Equal(t, "a b", StripThinking("a <think>x</think>b<think></think>"))
	assert.Equal(t, "plain", StripThinking("plain"))
}

func TestGenerate(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "<think>hmm</think>Summary text", "done": true})
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL + "/", Model: "qwen3"}
	out, err := c.Generate(context.Background(), "Summarize")
	require.NoError(t, err)
	assert.Equal(t, "Summary text", out)
	assert.Equal(t, generateRequest{Model: "qwen3", Prompt: "Summarize", Stream: false}, got)
}

func TestGenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		for _, part := range []string{"<think>", "x", "</think>", "Hello", " world"} {
			fmt.Fprintf(w, "{\"response\":%q,\"done\":false}\n", part)
		}
		fmt.Fprintln(w, `{"done":true}`)
	}))
	defer srv.Close()

	var chunks []string
	c := &Client{BaseURL: srv.URL}
	out, err := c.GenerateStream(context.Background(), "hi", func(s string) { chunks = append(chunks, s) })
	require.NoError(t, err)
	assert.Equal(t, "Hello world", out)
	assert.Len(t, chunks, 5)
}

func TestGenerateStreamWithoutDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"partial"}`)
	}))
	defer srv.Close()

	_, err := (&Client{BaseURL: srv.URL}).GenerateStream(context.Background(), "hi", nil)
	require.Error(t, err)
}

func TestGeneratePassesThroughServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := (&Client{BaseURL: srv.URL}).Generate(context.Background(), "hi")
	require.ErrorContains(t, err, "model not found")
	assert.False(t, errors.Is(err, ErrUnavailable))
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestUnavailableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := &Client{BaseURL: url}
	_, err := c.Generate(context.Background(), "hi")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "Cannot connect to Ollama")

	st := c.CheckStatus(context.Background())
	assert.False(t, st.Reachable)
	assert.Contains(t, st.Message, "Cannot connect to Ollama")
}

func TestStatusTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, StatusTimeout: 50 * time.Millisecond}
	_, err := c.ListModels(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "did not respond in time")
}

func TestCheckStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3.1:latest"},{"name":"qwen3:8b"}]}`))
	}))
	defer srv.Close()

	st := (&Client{BaseURL: srv.URL, Model: "llama3.1"}).CheckStatus(context.Background())
	assert.True(t, st.Reachable)
	assert.True(t, st.ModelAvailable)
	assert.Equal(t, []string{"llama3.1:latest", "qwen3:8b"}, st.Models)

	st = (&Client{BaseURL: srv.URL, Model: "qwen3:14b"}).CheckStatus(context.Background())
	assert.True(t, st.Reachable)
	assert.False(t, st.ModelAvailable)
	assert.Contains(t, st.Message, "ollama pull qwen3:14b")
}

type flakyClient struct {
	failures int32
	calls    atomic.Int32
	next     HTTPClient
}

func (f *flakyClient) Do(req *http.Request) (*http.Response, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)
	}
	return f.next.Do(req)
}

func TestWaitReadyRetriesUntilAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	flaky := &flakyClient{failures: 2, next: srv.Client()}
	c := &Client{BaseURL: srv.URL, HTTP: flaky, WaitMaxElapsed: 10 * time.Second}
	require.NoError(t, c.WaitReady(context.Background()))
	assert.Equal(t, int32(3), flaky.calls.Load())
}

func TestWaitReadyStopsOnPermanentError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, WaitMaxElapsed: 10 * time.Second}
	require.Error(t, c.WaitReady(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestModelMatches(t *testing.T) {
	assert.True(t, modelMatches("llama3.1:latest", "llama3.1"))
	assert.True(t, modelMatches("qwen3:8b", "qwen3:8b"))
	assert.False(t, modelMatches("qwen3:8b", "qwen3:14b"))
	assert.False(t, modelMatches("llama3", "llama3.1"))
}
