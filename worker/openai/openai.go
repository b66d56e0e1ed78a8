// Package openai adapts the OpenAI Chat Completions API to the core.Worker
// interface.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/agentroute/core"
)

// Options configures the OpenAI worker.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
	// Confidence is attached to every successful result; the API does not
	// report one.
	Confidence float64
	// InputCostPer1K / OutputCostPer1K feed the per-result cost estimate.
	InputCostPer1K  float64
	OutputCostPer1K float64
}

// Worker invokes a chat model once per dispatch. An agent can override the
// model and system prompt through its metadata ("model", "system").
type Worker struct {
	client *openai.Client
	opts   Options
}

// New creates an OpenAI worker using the official client.
func New(optFns ...func(o *Options)) *Worker {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(clientOpts...)

	return &Worker{client: &client, opts: opts}
}

// NewFromClient creates an OpenAI worker from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Worker {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Worker{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
		Confidence:          0.7,
	}
}

// Invoke implements core.Worker with a single non-streaming completion call.
func (w *Worker) Invoke(ctx context.Context, agent core.AgentDefinition, task core.Task) (core.AgentResult, error) {
	model := w.opts.Model
	if override := agent.Metadata["model"]; override != "" {
		model = override
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if system := agent.Metadata["system"]; system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(task.Input))

	resp, err := w.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               model,
		Messages:            messages,
		Temperature:         openai.Float(w.opts.Temperature),
		MaxCompletionTokens: openai.Int(w.opts.MaxCompletionTokens),
	})
	if err != nil {
		return core.AgentResult{AgentID: agent.ID}, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return core.AgentResult{AgentID: agent.ID}, fmt.Errorf("no choices returned")
	}

	cost := float64(resp.Usage.PromptTokens)/1000*w.opts.InputCostPer1K +
		float64(resp.Usage.CompletionTokens)/1000*w.opts.OutputCostPer1K

	return core.AgentResult{
		AgentID:    agent.ID,
		Value:      core.StringValue(resp.Choices[0].Message.Content),
		Confidence: w.opts.Confidence,
		Priority:   agent.Priority,
		Succeeded:  true,
		Tokens:     int(resp.Usage.TotalTokens),
		Cost:       cost,
	}, nil
}
