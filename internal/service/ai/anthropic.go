package ai

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/vtrenkov/chatrelay/internal/model/convo"
)

// AnthropicGenerator produces replies through the Anthropic messages API.
type AnthropicGenerator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicGenerator builds a generator bound to one model.
func NewAnthropicGenerator(apiKey, model string, maxTokens int64) *AnthropicGenerator {
	return &AnthropicGenerator{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Backend identifies this generator.
func (g *AnthropicGenerator) Backend() Backend { return BackendAnthropic }

// Generate sends the bounded history plus the current text as a messages
// request.
func (g *AnthropicGenerator) Generate(ctx context.Context, history []convo.Turn, text string) (Reply, error) {
	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, turn := range history {
		switch turn.Role {
		case convo.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Text)))
		case convo.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Text)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: g.maxTokens,
		Messages:  messages,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
	}

	message, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return Reply{}, classify(BackendAnthropic, err)
	}

	var content string
	for _, block := range message.Content {
		content += block.Text
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return Reply{}, malformed(BackendAnthropic, "empty response content")
	}

	cost := message.Usage.InputTokens + message.Usage.OutputTokens
	if cost == 0 {
		cost = EstimateCost(text) + EstimateCost(content)
	}
	return Reply{Text: content, Cost: cost}, nil
}
