package ai

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/vtrenkov/chatrelay/internal/model/convo"
)

// OpenAIGenerator produces replies through the OpenAI chat completions API.
type OpenAIGenerator struct {
	client    openai.Client
	model     string
	maxTokens int64
}

// NewOpenAIGenerator builds a generator bound to one chat model.
func NewOpenAIGenerator(apiKey, model string, maxTokens int64) *OpenAIGenerator {
	return &OpenAIGenerator{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Backend identifies this generator.
func (g *OpenAIGenerator) Backend() Backend { return BackendOpenAI }

// Generate sends the bounded history plus the current text as a chat
// completion request.
func (g *OpenAIGenerator) Generate(ctx context.Context, history []convo.Turn, text string) (Reply, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(systemPrompt))
	for _, turn := range history {
		switch turn.Role {
		case convo.RoleUser:
			messages = append(messages, openai.UserMessage(turn.Text))
		case convo.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Text))
		}
	}
	messages = append(messages, openai.UserMessage(text))

	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(g.model),
		Messages:  messages,
		MaxTokens: openai.Int(g.maxTokens),
	}

	completion, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Reply{}, classify(BackendOpenAI, err)
	}

	if len(completion.Choices) == 0 {
		return Reply{}, malformed(BackendOpenAI, "no response choices returned")
	}

	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return Reply{}, malformed(BackendOpenAI, "empty response content")
	}

	cost := completion.Usage.TotalTokens
	if cost == 0 {
		cost = EstimateCost(text) + EstimateCost(content)
	}
	return Reply{Text: content, Cost: cost}, nil
}
