package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

type ipv4Server struct {
	URL string
	srv *http.Server
}

func newIPv4Server(t *testing.T, handler http.Handler) *ipv4Server {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
			t.Skipf("skipping test: cannot open local listener (%v)", err)
		}
		t.Fatalf("listen tcp4: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(fmt.Sprintf("test server serve: %v", err))
		}
	}()
	s := &ipv4Server{URL: "http://" + ln.Addr().String(), srv: srv}
	t.Cleanup(s.Close)
	return s
}

func (s *ipv4Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}

func sequence(t *testing.T, statuses []int, headers []http.Header, bodyOK any) (*ipv4Server, *int32) {
	t.Helper()
	var calls int32
	s := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		i := int(atomic.AddInt32(&calls, 1)) - 1
		if i >= len(statuses) {
			i = len(statuses) - 1
		}
		if i < len(headers) {
			for k, vals := range headers[i] {
				for _, v := range vals {
					w.Header().Add(k, v)
				}
			}
		}
		w.WriteHeader(statuses[i])
		if statuses[i] >= 200 && statuses[i] < 300 {
			_ = json.NewEncoder(w).Encode(bodyOK)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "slow down"}})
	}))
	return s, &calls
}

var hello = GenerateRequest{Model: "test-model", Messages: []Message{{Role: "user", Content: "hi"}}, MaxTokens: 1}

func TestOpenRouterRetriesOn429(t *testing.T) {
	ok := GenerateResponse{Choices: []Choice{{Message: Message{Role: "assistant", Content: "ok"}}}}
	srv, calls := sequence(t, []int{429, 200}, []http.Header{{"Retry-After": {"0"}}, {}}, ok)

	c := NewOpenRouterClient("key", srv.URL, 2*time.Second, 3, 10*time.Millisecond, 50*time.Millisecond)
	resp, err := c.Generate(context.Background(), hello)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if resp.Text() != "ok" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if atomic.LoadInt32(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", *calls)
	}
}

func TestOpenRouterGivesUpAfterAttempts(t *testing.T) {
	srv, calls := sequence(t, []int{503}, nil, nil)
	c := NewOpenRouterClient("key", srv.URL, 2*time.Second, 2, 5*time.Millisecond, 10*time.Millisecond)
	_, err := c.Generate(context.Background(), hello)
	var se *ServerError
	if !errors.As(err, &se) {
		t.Fatalf("expected ServerError, got %T %v", err, err)
	}
	if atomic.LoadInt32(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", *calls)
	}
}

func TestOpenRouterErrorIncludesRequestID(t *testing.T) {
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Id", "req_test_123")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "bad req", "code": "bad_request"}})
	}))
	c := NewOpenRouterClient("key", srv.URL, 2*time.Second, 1, 0, 0)
	_, err := c.Generate(context.Background(), hello)
	var bre *BadRequestError
	if !errors.As(err, &bre) {
		t.Fatalf("expected BadRequestError, got %T %v", err, err)
	}
	if !strings.Contains(err.Error(), "req_test_123") {
		t.Fatalf("expected request id in error, got: %v", err)
	}
}

func TestOpenRouterAuthError(t *testing.T) {
	srv, _ := sequence(t, []int{401}, nil, nil)
	c := NewOpenRouterClient("key", srv.URL, time.Second, 3, 0, 0)
	_, err := c.Generate(context.Background(), hello)
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthError, got %T %v", err, err)
	}
}

func TestOpenRouterRequiresKeyAndModel(t *testing.T) {
	if _, err := NewOpenRouterClient("", "", 0, 0, 0, 0).Generate(context.Background(), hello); err == nil {
		t.Fatalf("expected missing key error")
	}
	if _, err := NewOpenRouterClient("k", "", 0, 0, 0, 0).Generate(context.Background(), GenerateRequest{}); err == nil {
		t.Fatalf("expected missing model error")
	}
}

func TestOllamaGenerate(t *testing.T) {
	var got ollamaChatRequest
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message":           map[string]any{"role": "assistant", "content": "hello from ollama"},
			"done":              true,
			"prompt_eval_count": 3,
			"eval_count":        4,
		})
	}))

	c := NewOllamaClient(srv.URL, 2*time.Second, 1, 0, 0)
	msgs := []Message{{Role: "system", Content: "be terse"}, {Role: "user", Content: "hi"}}
	resp, err := c.Generate(context.Background(), GenerateRequest{Model: "llama3", Messages: msgs, MaxTokens: 16})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if resp.Text() != "hello from ollama" || resp.RequestID == "" || resp.Usage.TotalTokens != 7 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(got.Messages) != 2 || got.Stream || got.Options["num_predict"] != float64(16) {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestOllamaModelNotFound(t *testing.T) {
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "model 'x' not found"})
	}))
	_, err := NewOllamaClient(srv.URL, time.Second, 2, 0, 0).Generate(context.Background(), hello)
	var mnf *ModelNotFoundError
	if !errors.As(err, &mnf) {
		t.Fatalf("expected ModelNotFoundError, got %T %v", err, err)
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected message in error, got %v", err)
	}
}

func TestOllamaEmptyMessages(t *testing.T) {
	_, err := NewOllamaClient("", 0, 0, 0, 0).Generate(context.Background(), GenerateRequest{Model: "m"})
	if err == nil || err.Error() != "messages cannot be empty" {
		t.Fatalf("expected 'messages cannot be empty' error, got: %v", err)
	}
}

func TestRegistry(t *testing.T) {
	for _, p := range []string{ProviderOpenRouter, ProviderOllama, "OLLAMA"} {
		if _, ok := NewRuntime(p, Config{}); !ok {
			t.Fatalf("provider %s not registered", p)
		}
	}
	if _, ok := NewRuntime("nope", Config{}); ok {
		t.Fatalf("unexpected runtime for unknown provider")
	}
	if got := Providers(); len(got) < 2 {
		t.Fatalf("expected at least 2 providers, got %v", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if s, err := parseRetryAfterSeconds("3"); err != nil || s != 3 {
		t.Fatalf("got %d %v", s, err)
	}
	if _, err := parseRetryAfterSeconds("soon"); err == nil {
		t.Fatalf("expected error")
	}
}
