package together

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testRequest() ChatRequest {
	return ChatRequest{
		Model:       "meta-llama/Llama-3-70B-Instruct",
		Messages:    []Message{{Role: "user", Content: "hi"}},
		MaxTokens:   4096,
		Temperature: 0.1,
	}
}

func TestComplete_FirstChoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"gen-1","choices":[{"index":0,"message":{"role":"assistant","content":"first"}},{"index":1,"message":{"role":"assistant","content":"second"}}]}`)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := c.Complete(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "first" {
		t.Errorf("content = %q, want %q", got, "first")
	}
}

func TestChatCompletion_WireFormat(t *testing.T) {
	var body map[string]any
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&body)
		fmt.Fprint(w, `{"id":"gen-1","choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	if _, err := c.ChatCompletion(context.Background(), testRequest()); err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer test-key")
	}
	if body["max_tokens"] != float64(4096) {
		t.Errorf("max_tokens = %v, want 4096", body["max_tokens"])
	}
	if body["temperature"] != 0.1 {
		t.Errorf("temperature = %v, want 0.1", body["temperature"])
	}
	if _, ok := body["stream"]; ok {
		t.Errorf("stream should be omitted for non-streaming requests, got %v", body["stream"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 1 {
		t.Errorf("messages = %v", body["messages"])
	}
}

func TestComplete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"gen-1","choices":[]}`)
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL)).Complete(context.Background(), testRequest())
	if err == nil || !strings.Contains(err.Error(), "no choices") {
		t.Fatalf("err = %v, want no choices error", err)
	}
}

func TestChatCompletion_AuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Invalid API key provided","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	_, err := NewClient("bad", WithBaseURL(srv.URL)).ChatCompletion(context.Background(), testRequest())
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", se.Status)
	}
	if se.Message != "Invalid API key provided" {
		t.Errorf("Message = %q", se.Message)
	}
}

func TestChatCompletion_NoRetryOnRateLimit(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL)).ChatCompletion(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected error on 429")
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestChatCompletion_MissingKey(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	_, err := NewClient("", WithBaseURL(srv.URL)).ChatCompletion(context.Background(), testRequest())
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
	if called {
		t.Error("request was sent without an API key")
	}
}

func TestChatCompletion_ContextCancelled(t *testing.T) {
	handlerStarted := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(handlerStarted)
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := NewClient("k", WithBaseURL(srv.URL)).ChatCompletion(ctx, testRequest())
		done <- err
	}()

	<-handlerStarted
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after context cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ChatCompletion did not return promptly after context cancellation")
	}
}

func TestWithRequestsPerMinute_Paces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	// One request per minute: the first goes through, the second must wait
	// and therefore fails on a short deadline.
	c := NewClient("k", WithBaseURL(srv.URL), WithRequestsPerMinute(1))
	if _, err := c.Complete(context.Background(), testRequest()); err != nil {
		t.Fatalf("first Complete: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Complete(ctx, testRequest()); err == nil {
		t.Fatal("second request should have been held by the limiter")
	}
}

func TestListModels_Array(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode([]Model{
			{ID: "meta-llama/Llama-3-70B-Instruct", Object: "model", Type: "chat"},
			{ID: "mistralai/Mixtral-8x7B-Instruct-v0.1", Object: "model", Type: "chat"},
		})
	}))
	defer srv.Close()

	models, err := NewClient("k", WithBaseURL(srv.URL)).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[1].ID != "mistralai/Mixtral-8x7B-Instruct-v0.1" {
		t.Errorf("models = %+v", models)
	}
}

func TestListModels_DataEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"object":"list","data":[{"id":"x","object":"model"}]}`)
	}))
	defer srv.Close()

	models, err := NewClient("k", WithBaseURL(srv.URL)).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 1 || models[0].ID != "x" {
		t.Errorf("models = %+v", models)
	}
}

func TestListModels_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `null`)
	}))
	defer srv.Close()

	models, err := NewClient("k", WithBaseURL(srv.URL)).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 0 {
		t.Errorf("got %d models, want 0", len(models))
	}
}
