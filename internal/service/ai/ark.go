package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/vtrenkov/chatrelay/internal/model/convo"
)

// ArkGenerator produces replies through an eino chain backed by a Volcengine
// Ark chat model.
type ArkGenerator struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewArkGenerator compiles the prompt-template + chat-model chain once; the
// compiled chain is reused for every call.
func NewArkGenerator(ctx context.Context, chatModel model.ChatModel) (*ArkGenerator, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ArkGenerator{chain: runnable}, nil
}

// Backend identifies this generator.
func (g *ArkGenerator) Backend() Backend { return BackendArk }

// Generate runs the chain with the session history and current text.
func (g *ArkGenerator) Generate(ctx context.Context, history []convo.Turn, text string) (Reply, error) {
	input := map[string]any{
		"system":  systemPrompt,
		"history": arkHistory(history),
		"query":   text,
	}

	response, err := g.chain.Invoke(ctx, input)
	if err != nil {
		return Reply{}, classify(BackendArk, err)
	}
	if response == nil || response.Content == "" {
		return Reply{}, malformed(BackendArk, "empty response content")
	}

	// Ark usage metadata is not surfaced through the chain; fall back to the
	// length proxy.
	cost := EstimateCost(text) + EstimateCost(response.Content)
	return Reply{Text: response.Content, Cost: cost}, nil
}

func arkHistory(turns []convo.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case convo.RoleUser:
			history = append(history, schema.UserMessage(turn.Text))
		case convo.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Text, nil))
		}
	}
	return history
}
