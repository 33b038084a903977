// Package openai converses with OpenAI-compatible chat models, streaming
// responses through the conversation relay.
package openai

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ziQzav/khoj/plugin/conversation"
)

const defaultMaxRetries = 3

// Client wraps an OpenAI-compatible chat completion API.
type Client struct {
	api        *openai.Client
	prompts    *conversation.PromptBuilder
	maxRetries int
}

// NewClient creates a client for the given API key and base URL. An empty
// baseURL targets the OpenAI API.
func NewClient(apiKey, baseURL string, prompts *conversation.PromptBuilder) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:        openai.NewClientWithConfig(config),
		prompts:    prompts,
		maxRetries: defaultMaxRetries,
	}
}

// Complete performs a blocking chat completion and returns the response
// text.
func (c *Client) Complete(ctx context.Context, messages []conversation.ChatMessage, model string, opts ...RequestOption) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toAPIMessages(messages),
	}
	for _, opt := range opts {
		opt(&req)
	}

	var result string
	err := c.doWithRetry(ctx, func() error {
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("empty chat completion response")
		}
		result = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// StreamCompletion performs a streaming chat completion, forwarding each
// delta through the relay. The relay is always closed, so the completion
// callback and turn persistence fire even on failure; whatever text was
// emitted before a mid-stream error is preserved.
func (c *Client) StreamCompletion(ctx context.Context, messages []conversation.ChatMessage, model string, relay *conversation.StreamRelay, opts ...RequestOption) {
	defer relay.Close()

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toAPIMessages(messages),
		Stream:   true,
	}
	for _, opt := range opts {
		opt(&req)
	}

	var stream *openai.ChatCompletionStream
	err := c.doWithRetry(ctx, func() error {
		var err error
		stream, err = c.api.CreateChatCompletionStream(ctx, req)
		return err
	})
	if err != nil {
		slog.Error("failed to open chat completion stream", "model", model, "error", err)
		return
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			slog.Error("chat completion stream aborted", "model", model, "error", err)
			return
		}
		if len(resp.Choices) > 0 {
			relay.Send(resp.Choices[0].Delta.Content)
		}
	}
}

// RequestOption tweaks a chat completion request.
type RequestOption func(*openai.ChatCompletionRequest)

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float32) RequestOption {
	return func(req *openai.ChatCompletionRequest) {
		req.Temperature = temperature
	}
}

// WithJSONResponse asks the model for a JSON object response.
func WithJSONResponse() RequestOption {
	return func(req *openai.ChatCompletionRequest) {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
}

// WithMaxTokens bounds the response length.
func WithMaxTokens(maxTokens int) RequestOption {
	return func(req *openai.ChatCompletionRequest) {
		req.MaxTokens = maxTokens
	}
}

// WithStop sets stop sequences.
func WithStop(stop ...string) RequestOption {
	return func(req *openai.ChatCompletionRequest) {
		req.Stop = stop
	}
}

// doWithRetry executes fn with exponential backoff on failure.
func (c *Client) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			if attempt < c.maxRetries-1 {
				wait := time.Duration(math.Pow(2, float64(attempt))) * time.Second
				slog.Debug("chat completion request failed, retrying",
					"attempt", attempt+1,
					"wait", wait,
					"error", err)
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
	return lastErr
}

func toAPIMessages(messages []conversation.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, message := range messages {
		out[i] = openai.ChatCompletionMessage{
			Role:    string(message.Role),
			Content: message.Content,
		}
	}
	return out
}
