// Package genai wraps the OpenAI API for chat completions and embeddings.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	DefaultModel       = "gpt-4o-mini"
	DefaultEmbedModel  = "text-embedding-3-small"
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 600
)

var (
	// ErrNoChoicesReturned is returned when the API responds without a choice.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrNoEmbeddingReturned is returned when the API responds without a vector.
	ErrNoEmbeddingReturned = errors.New("no embedding returned")
	// ErrNotConfigured is returned when a component needs a model but none is set.
	ErrNotConfigured = errors.New("language model not configured")
)

// chatService is the subset of the OpenAI chat API the client uses.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// embeddingService is the subset of the OpenAI embeddings API the client uses.
type embeddingService interface {
	Create(ctx context.Context, params openai.EmbeddingNewParams) (openai.CreateEmbeddingResponse, error)
}

type openAIChat struct{ svc *openai.ChatCompletionService }

func (c openAIChat) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := c.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

type openAIEmbeddings struct{ svc *openai.EmbeddingService }

func (e openAIEmbeddings) Create(ctx context.Context, params openai.EmbeddingNewParams) (openai.CreateEmbeddingResponse, error) {
	resp, err := e.svc.New(ctx, params)
	if err != nil {
		return openai.CreateEmbeddingResponse{}, err
	}
	return *resp, nil
}

// ClientInterface is what conversation modules need from a language model.
type ClientInterface interface {
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
	GenerateWithTemperature(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, temperature float64) (string, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Opts holds configuration for the client.
type Opts struct {
	APIKey      string
	Model       string
	EmbedModel  string
	Temperature float64
	MaxTokens   int
	DebugMode   bool
	StateDir    string
}

// Option configures the client.
type Option func(*Opts)

func WithAPIKey(key string) Option { return func(o *Opts) { o.APIKey = key } }
func WithModel(model string) Option { return func(o *Opts) { o.Model = model } }
func WithEmbedModel(model string) Option { return func(o *Opts) { o.EmbedModel = model } }
func WithTemperature(t float64) Option { return func(o *Opts) { o.Temperature = t } }
func WithMaxTokens(n int) Option { return func(o *Opts) { o.MaxTokens = n } }

// WithDebug writes every request and response as JSON under stateDir/debug.
func WithDebug(enabled bool, stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
		o.StateDir = stateDir
	}
}

// Client talks to OpenAI.
type Client struct {
	chat        chatService
	embeddings  embeddingService
	model       string
	embedModel  string
	temperature float64
	maxTokens   int
	debugMode   bool
	stateDir    string
}

var (
	_ ClientInterface = (*Client)(nil)
	_ Embedder        = (*Client)(nil)
)

// NewClient builds a client. The API key comes from options or OPENAI_API_KEY.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = DefaultEmbedModel
	}

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("genai.NewClient: client created", "model", cfg.Model, "embedModel", cfg.EmbedModel, "debug", cfg.DebugMode)
	return &Client{
		chat:        openAIChat{svc: &cli.Chat.Completions},
		embeddings:  openAIEmbeddings{svc: &cli.Embeddings},
		model:       cfg.Model,
		embedModel:  cfg.EmbedModel,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}, nil
}

// GenerateWithMessages completes a conversation at the configured temperature.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	return c.GenerateWithTemperature(ctx, messages, c.temperature)
}

// GenerateWithTemperature completes a conversation at the given temperature.
func (c *Client) GenerateWithTemperature(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, temperature float64) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(temperature),
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.maxTokens))
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	if c.debugMode {
		c.writeDebugLog(params, resp, err, time.Since(start))
	}
	if err != nil {
		slog.Error("genai chat completion failed", "error", err, "model", c.model)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("genai chat completion succeeded", "model", c.model, "chars", len(out), "elapsed", time.Since(start))
	return out, nil
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := c.embeddings.Create(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(c.embedModel),
	})
	if err != nil {
		slog.Error("genai embedding failed", "error", err, "model", c.embedModel)
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrNoEmbeddingReturned
	}
	return resp.Data[0].Embedding, nil
}

type debugRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	Model     string          `json:"model"`
	Request   json.RawMessage `json:"request,omitempty"`
	Response  string          `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
	ElapsedMS int64           `json:"elapsed_ms"`
}

func (c *Client) writeDebugLog(params openai.ChatCompletionNewParams, resp openai.ChatCompletion, callErr error, elapsed time.Duration) {
	rec := debugRecord{
		Timestamp: time.Now(),
		Model:     c.model,
		ElapsedMS: elapsed.Milliseconds(),
	}
	if raw, err := json.Marshal(params); err == nil {
		rec.Request = raw
	}
	if callErr != nil {
		rec.Error = callErr.Error()
	} else if len(resp.Choices) > 0 {
		rec.Response = resp.Choices[0].Message.Content
	}

	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("genai debug dir create failed", "error", err, "dir", dir)
		return
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		slog.Warn("genai debug marshal failed", "error", err)
		return
	}
	name := fmt.Sprintf("chat_%s.json", rec.Timestamp.Format("20060102T150405.000000000"))
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		slog.Warn("genai debug write failed", "error", err)
	}
}
