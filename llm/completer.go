package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// DefaultBaseURL is Groq's OpenAI-compatible endpoint.
	DefaultBaseURL = "https://api.groq.com/openai/v1/"
	DefaultModel   = "llama-3.1-8b-instant"
)

// ErrEmptyCompletion is returned when the model answered with no content.
var ErrEmptyCompletion = errors.New("empty completion")

// Request is one system+user exchange.
type Request struct {
	System      string
	User        string
	MaxTokens   int64
	Temperature float64
}

// Completer generates text for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ClientConfig configures the OpenAI-compatible completer.
type ClientConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Retries int // extra attempts after the first; 0 means a single attempt
}

// OpenAICompleter talks to any OpenAI-compatible chat completions API.
type OpenAICompleter struct {
	client *openai.Client
	model  string
}

// NewOpenAICompleter builds a completer from config.
func NewOpenAICompleter(cfg ClientConfig) *OpenAICompleter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &OpenAICompleter{
		client: openai.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(cfg.BaseURL),
			option.WithHTTPClient(newHTTPClient(cfg)),
			option.WithMaxRetries(0),
		),
		model: cfg.Model,
	}
}

func newHTTPClient(cfg ClientConfig) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.Retries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	rc.HTTPClient.Transport = otelhttp.NewTransport(rc.HTTPClient.Transport)

	client := rc.StandardClient()
	client.Timeout = cfg.Timeout
	return client
}

// Complete sends the messages and returns the first choice's content.
func (c *OpenAICompleter) Complete(ctx context.Context, req Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			textMessage(openai.ChatCompletionMessageParamRoleSystem, req.System),
			textMessage(openai.ChatCompletionMessageParamRoleUser, req.User),
		}),
		Model:       openai.F(c.model),
		Temperature: openai.F(req.Temperature),
	}
	params.ResponseFormat = openai.F[openai.ChatCompletionNewParamsResponseFormatUnion](shared.ResponseFormatJSONObjectParam{
		Type: openai.F(shared.ResponseFormatJSONObjectTypeJSONObject),
	})
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.F(req.MaxTokens)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

// textMessage sends content as a plain string. The SDK helpers encode it as a
// parts array, which Groq rejects for system messages.
func textMessage(role openai.ChatCompletionMessageParamRole, content string) openai.ChatCompletionMessageParam {
	return openai.ChatCompletionMessageParam{
		Role:    openai.F(role),
		Content: openai.F[interface{}](content),
	}
}
