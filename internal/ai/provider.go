package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/basket/bujo/internal/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    model.Role
	Content string
}

// ChatProvider completes a conversation with a single API key. It must not
// retry on its own; key rotation happens in Client.
type ChatProvider interface {
	Complete(ctx context.Context, apiKey string, messages []Message) (string, error)
}

// ProviderFunc adapts a function to ChatProvider.
type ProviderFunc func(ctx context.Context, apiKey string, messages []Message) (string, error)

func (f ProviderFunc) Complete(ctx context.Context, apiKey string, messages []Message) (string, error) {
	return f(ctx, apiKey, messages)
}

// ProviderError is an HTTP-level failure reported by a chat provider.
type ProviderError struct {
	StatusCode int
	RetryAfter time.Duration // zero when the provider sent no usable header
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider status %d: %s", e.StatusCode, e.Message)
}

func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

// ParseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date. It returns zero when the value is missing or unusable.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d.Round(time.Second)
		}
	}
	return 0
}

// OpenAIProvider talks to an OpenAI-compatible chat completions endpoint
// such as OpenRouter.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIProvider builds a provider for baseURL. SDK retries are disabled.
// httpClient may be nil.
func NewOpenAIProvider(baseURL, model string, httpClient *http.Client) *OpenAIProvider {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...), model: model}
}

func (p *OpenAIProvider) Complete(ctx context.Context, apiKey string, messages []Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
	}
	for _, m := range messages {
		switch m.Role {
		case model.RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case model.RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params, option.WithAPIKey(apiKey))
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			pe := &ProviderError{StatusCode: apiErr.StatusCode, Message: apiErr.Message}
			if pe.Message == "" {
				pe.Message = http.StatusText(apiErr.StatusCode)
			}
			if apiErr.Response != nil {
				pe.RetryAfter = ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"), time.Now())
			}
			return "", pe
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("provider returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
