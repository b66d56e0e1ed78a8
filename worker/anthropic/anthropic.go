// Package anthropic adapts the Anthropic Messages API to the core.Worker
// interface so Claude models can take part in coordination rounds.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/agentroute/core"
)

// Options configures the Anthropic worker (model id, temperature, max tokens,
// API key, pricing). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	// Confidence is attached to every successful result; the API does not
	// report one.
	Confidence float64
	// InputCostPer1K / OutputCostPer1K feed the per-result cost estimate.
	InputCostPer1K  float64
	OutputCostPer1K float64
}

// Worker invokes a Claude model once per dispatch. An agent can override the
// model and system prompt through its metadata ("model", "system").
type Worker struct {
	client *anthropic.Client
	opts   Options
}

// New creates an Anthropic worker using the official client.
func New(optFns ...func(o *Options)) *Worker {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Worker{client: &client, opts: opts}
}

// NewFromClient creates an Anthropic worker from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Worker {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Worker{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
		Confidence:  0.7,
	}
}

// Invoke implements core.Worker with a single non-streaming message call.
func (w *Worker) Invoke(ctx context.Context, agent core.AgentDefinition, task core.Task) (core.AgentResult, error) {
	model := w.opts.Model
	if override := agent.Metadata["model"]; override != "" {
		model = anthropic.Model(override)
	}

	params := anthropic.MessageNewParams{
		Model:       model,
		MaxTokens:   w.opts.MaxTokens,
		Temperature: anthropic.Float(w.opts.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(task.Input)),
		},
	}
	if system := agent.Metadata["system"]; system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := w.client.Messages.New(ctx, params)
	if err != nil {
		return core.AgentResult{AgentID: agent.ID}, fmt.Errorf("anthropic api error: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}

	inputTokens := resp.Usage.InputTokens
	outputTokens := resp.Usage.OutputTokens
	cost := float64(inputTokens)/1000*w.opts.InputCostPer1K + float64(outputTokens)/1000*w.opts.OutputCostPer1K

	return core.AgentResult{
		AgentID:    agent.ID,
		Value:      core.StringValue(text.String()),
		Confidence: w.opts.Confidence,
		Priority:   agent.Priority,
		Succeeded:  true,
		Tokens:     int(inputTokens + outputTokens),
		Cost:       cost,
	}, nil
}
