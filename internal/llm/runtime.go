// Package llm holds the chat-completion runtimes used to re-issue invalid
// action plans. The engine itself never calls a model.
package llm

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Runtime is implemented by chat-completion backends.
type Runtime interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// Provider identifiers accepted by NewRuntime.
const (
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type GenerateRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Choice struct {
	Message Message `json:"message"`
}

type GenerateResponse struct {
	ID        string   `json:"id"`
	Choices   []Choice `json:"choices"`
	Usage     Usage    `json:"usage"`
	RequestID string   `json:"-"`
}

// Text returns the first choice's content.
func (r *GenerateResponse) Text() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Config carries the knobs shared by runtimes.
type Config struct {
	HTTPTimeout time.Duration
	RetryMax    int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// OpenRouter
	APIKey  string
	BaseURL string
	// Ollama
	Host string
}

// Factory builds a Runtime from Config.
type Factory func(Config) Runtime

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register binds a provider name to a factory.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[strings.ToLower(name)] = f
}

// NewRuntime creates the runtime registered under provider.
func NewRuntime(provider string, cfg Config) (Runtime, bool) {
	mu.RLock()
	f, ok := registry[strings.ToLower(provider)]
	mu.RUnlock()
	if !ok {
		return nil, false
	}
	return f(cfg), true
}

// Providers lists registered provider names.
func Providers() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func init() {
	Register(ProviderOpenRouter, func(c Config) Runtime {
		return NewOpenRouterClient(c.APIKey, c.BaseURL, c.HTTPTimeout, c.RetryMax, c.BaseDelay, c.MaxDelay)
	})
	Register(ProviderOllama, func(c Config) Runtime {
		return NewOllamaClient(c.Host, c.HTTPTimeout, c.RetryMax, c.BaseDelay, c.MaxDelay)
	})
}
