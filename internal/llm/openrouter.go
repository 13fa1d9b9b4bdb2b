package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"
)

const defaultOpenRouterURL = "https://openrouter.ai/api/v1"

// OpenRouterClient talks to an OpenAI-compatible chat completions endpoint.
type OpenRouterClient struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	retry      retryPolicy
}

// NewOpenRouterClient returns a client; zero values select defaults.
func NewOpenRouterClient(apiKey, baseURL string, httpTimeout time.Duration, retryMax int, baseDelay, maxDelay time.Duration) *OpenRouterClient {
	if httpTimeout <= 0 {
		httpTimeout = 60 * time.Second
	}
	if baseURL == "" {
		baseURL = defaultOpenRouterURL
	}
	return &OpenRouterClient{
		httpClient: &http.Client{Timeout: httpTimeout},
		apiKey:     apiKey,
		baseURL:    baseURL,
		retry:      newRetryPolicy(retryMax, 3, baseDelay, 500*time.Millisecond, maxDelay, 4*time.Second),
	}
}

func (c *OpenRouterClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if c.apiKey == "" {
		return nil, errors.New("OPENROUTER_API_KEY is missing")
	}
	if req.Model == "" {
		return nil, errors.New("model cannot be empty")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	endpoint := c.baseURL + "/chat/completions"

	var out *GenerateResponse
	err = c.retry.do(ctx, func(last bool) (time.Duration, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return 0, permanent(fmt.Errorf("build request: %w", err))
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("HTTP-Referer", "https://github.com/KaramelBytes/playbook-guard")
		httpReq.Header.Set("X-Title", "pbguard")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if isRetryableNetErr(err) {
				return 0, fmt.Errorf("http request: %w", err)
			}
			return 0, permanent(fmt.Errorf("http request: %w", err))
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := readAPIError(resp)
			retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
			if retryable && !last {
				var wait time.Duration
				if secs, err := parseRetryAfterSeconds(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
					wait = time.Duration(secs) * time.Second
				}
				return wait, apiErr
			}
			return 0, permanent(classify(apiErr, resp))
		}
		var gr GenerateResponse
		if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
			return 0, permanent(fmt.Errorf("decode response: %w", err))
		}
		gr.RequestID = extractRequestID(resp)
		out = &gr
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// retryPolicy is exponential backoff with +/-20% jitter, capped at maxDelay.
type retryPolicy struct {
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
}

func newRetryPolicy(attempts, defAttempts int, base, defBase, maxDelay, defMax time.Duration) retryPolicy {
	if attempts <= 0 {
		attempts = defAttempts
	}
	if base <= 0 {
		base = defBase
	}
	if maxDelay <= 0 {
		maxDelay = defMax
	}
	return retryPolicy{attempts: attempts, baseDelay: base, maxDelay: maxDelay}
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

func permanent(err error) error { return permanentError{err} }

// do runs fn until it succeeds, returns a permanent error or attempts run out.
// fn may request a specific wait (Retry-After); otherwise backoff applies.
func (p retryPolicy) do(ctx context.Context, fn func(last bool) (time.Duration, error)) error {
	backoff := p.baseDelay
	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait, err := fn(attempt == p.attempts)
		if err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
		if attempt == p.attempts {
			break
		}
		if wait <= 0 {
			wait = min(withJitter(backoff), p.maxDelay)
			backoff *= 2
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}

func isRetryableNetErr(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, io.EOF)
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 500 * time.Millisecond
	}
	f := 0.8 + rand.Float64()*0.4
	if out := time.Duration(float64(d) * f); out > 0 {
		return out
	}
	return d
}
