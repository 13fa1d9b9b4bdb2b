package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// OllamaClient targets a local Ollama /api/chat endpoint.
type OllamaClient struct {
	httpClient *http.Client
	host       string
	retry      retryPolicy
}

// NewOllamaClient creates a client for host (default http://127.0.0.1:11434).
func NewOllamaClient(host string, httpTimeout time.Duration, retryMax int, baseDelay, maxDelay time.Duration) *OllamaClient {
	if host == "" {
		host = "http://127.0.0.1:11434"
	}
	if httpTimeout <= 0 {
		httpTimeout = 60 * time.Second
	}
	return &OllamaClient{
		httpClient: &http.Client{Timeout: httpTimeout},
		host:       host,
		retry:      newRetryPolicy(retryMax, 2, baseDelay, 200*time.Millisecond, maxDelay, time.Second),
	}
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
}

func (c *OllamaClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if req.Model == "" {
		return nil, errors.New("model cannot be empty")
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("messages cannot be empty")
	}
	oreq := ollamaChatRequest{Model: req.Model, Messages: req.Messages, Options: map[string]any{}}
	if req.Temperature > 0 {
		oreq.Options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		oreq.Options["num_predict"] = req.MaxTokens
	}
	payload, err := json.Marshal(oreq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	endpoint := c.host + "/api/chat"

	var out *GenerateResponse
	err = c.retry.do(ctx, func(bool) (time.Duration, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return 0, permanent(fmt.Errorf("build request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if isRetryableNetErr(err) {
				return 0, &UnreachableError{Host: c.host, Err: err}
			}
			return 0, permanent(&UnreachableError{Host: c.host, Err: err})
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := readAPIError(resp)
			switch {
			case resp.StatusCode == http.StatusNotFound:
				return 0, permanent(&ModelNotFoundError{APIError: apiErr})
			case resp.StatusCode >= 500:
				return 0, &ServerError{APIError: apiErr}
			case resp.StatusCode == http.StatusBadRequest:
				return 0, permanent(&BadRequestError{APIError: apiErr})
			}
			return 0, permanent(apiErr)
		}
		var oresp ollamaChatResponse
		if err := json.NewDecoder(resp.Body).Decode(&oresp); err != nil {
			return 0, permanent(fmt.Errorf("decode response: %w", err))
		}
		out = &GenerateResponse{
			Choices:   []Choice{{Message: Message{Role: "assistant", Content: oresp.Message.Content}}},
			Usage:     Usage{PromptTokens: oresp.PromptEvalCount, CompletionTokens: oresp.EvalCount, TotalTokens: oresp.PromptEvalCount + oresp.EvalCount},
			RequestID: fmt.Sprintf("ollama_%d", time.Now().UnixNano()),
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
