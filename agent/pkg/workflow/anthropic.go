package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/getsentry/sentry-go"

	"github.com/malbeclabs/waybill/api/metrics"
)

// AnthropicLLMClient implements LLMClient using the Anthropic Messages API.
type AnthropicLLMClient struct {
	client      anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	temperature float64
}

// NewAnthropicLLMClient creates a client for the given model.
// The API key is read from ANTHROPIC_API_KEY by the underlying SDK.
func NewAnthropicLLMClient(model anthropic.Model, maxTokens int64, temperature float64) *AnthropicLLMClient {
	return &AnthropicLLMClient{
		client:      anthropic.NewClient(),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// Complete sends a single-turn prompt and returns the response text.
func (c *AnthropicLLMClient) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error) {
	options := &CompleteOptions{}
	for _, opt := range opts {
		opt(options)
	}

	// Sentry span for AI monitoring
	span := sentry.StartSpan(ctx, "gen_ai.chat", sentry.WithDescription(fmt.Sprintf("chat %s", c.model)))
	span.SetData("gen_ai.operation.name", "chat")
	span.SetData("gen_ai.request.model", string(c.model))
	span.SetData("gen_ai.request.max_tokens", c.maxTokens)
	span.SetData("gen_ai.system", "anthropic")
	ctx = span.Context()
	defer span.Finish()

	systemBlock := anthropic.TextBlockParam{Type: "text", Text: systemPrompt}
	if options.CacheSystemPrompt {
		systemBlock.CacheControl = anthropic.NewCacheControlEphemeralParam()
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
		System:      []anthropic.TextBlockParam{systemBlock},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	metrics.RecordAnthropicRequest("messages", time.Since(start), err)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return "", fmt.Errorf("anthropic completion: %w", err)
	}

	metrics.RecordAnthropicTokens(msg.Usage.InputTokens, msg.Usage.OutputTokens)
	span.SetData("gen_ai.usage.input_tokens", msg.Usage.InputTokens)
	span.SetData("gen_ai.usage.output_tokens", msg.Usage.OutputTokens)
	span.Status = sentry.SpanStatusOK

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", nil
}
