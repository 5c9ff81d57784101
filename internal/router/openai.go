package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = `You are the router for a coding-agent switchboard.
Given the operator's message, respond with a JSON object:
  {"agent": "claude"|"codex"|"", "task": "...", "integrations": [...], "reply": "..."}
Set "agent" to hand the conversation to that CLI with "task" as its
instruction; leave it empty and fill "reply" to answer yourself. Name
"integrations" only when the task needs one (currently: "blender").`

// OpenAIDecider routes via a chat-completion call that returns the
// structured decision as JSON.
type OpenAIDecider struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIDecider creates a decider backed by the OpenAI API. An empty
// model selects gpt-4o-mini.
func NewOpenAIDecider(apiKey, model string, logger *slog.Logger) *OpenAIDecider {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIDecider{
		client: openai.NewClient(apiKey),
		model:  model,
		logger: logger,
	}
}

func (d *OpenAIDecider) Decide(ctx context.Context, message string) (Decision, error) {
	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: message},
		},
	})
	if err != nil {
		return Decision{}, fmt.Errorf("routing call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Decision{}, fmt.Errorf("routing call returned no choices")
	}

	decision, err := parseDecision(resp.Choices[0].Message.Content, message, d.logger)
	if err != nil {
		return Decision{}, err
	}

	d.logger.Debug("routing decision",
		"agent", decision.Agent,
		"integrations", decision.Integrations)
	return decision, nil
}

// parseDecision decodes the model's JSON answer and normalizes it: unknown
// agent kinds fall back to a router reply, and a handoff without an explicit
// task uses the operator's message verbatim.
func parseDecision(content, message string, logger *slog.Logger) (Decision, error) {
	var decision Decision
	if err := json.Unmarshal([]byte(content), &decision); err != nil {
		return Decision{}, fmt.Errorf("failed to parse routing decision: %w", err)
	}

	if decision.Agent != "" && !decision.Agent.Spawnable() {
		logger.Warn("router chose unknown agent, staying with router", "agent", decision.Agent)
		decision = Decision{Reply: decision.Reply}
	}
	if decision.Agent != "" && decision.Task == "" {
		decision.Task = message
	}
	return decision, nil
}

var _ Decider = (*OpenAIDecider)(nil)
