package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tale-server/internal/config"
	"tale-server/internal/models"

	openaigo "github.com/sashabaranov/go-openai"
)

// Context windows of commonly used models, most specific name first.
// OpenAI-compatible APIs expose no probe endpoint, so the limit is looked
// up here; unknown models stay unknown and budgeting fails open.
var openAIContextWindows = []struct {
	prefix string
	tokens int
}{
	{"gpt-4o-mini", 128000},
	{"gpt-4o", 128000},
	{"gpt-4-turbo", 128000},
	{"gpt-4", 8192},
	{"gpt-3.5-turbo", 16385},
}

type openAIBackend struct {
	client      *openaigo.Client
	model       string
	temperature float32
}

func newOpenAIBackend(cfg *config.Config) *openAIBackend {
	clientCfg := openaigo.DefaultConfig(cfg.AIAPIKey)
	if cfg.AIBaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.AIBaseURL, "/")
	}
	return &openAIBackend{
		client:      openaigo.NewClientWithConfig(clientCfg),
		model:       cfg.AIModel,
		temperature: float32(cfg.AITemperature),
	}
}

func (b *openAIBackend) provider() string { return "openai" }

func (b *openAIBackend) complete(ctx context.Context, systemPrompt string, history []models.ChatMessage) (string, error) {
	messages := make([]openaigo.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openaigo.ChatCompletionMessage{
		Role:    openaigo.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, m := range history {
		messages = append(messages, openaigo.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := b.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model:       b.model,
		Messages:    messages,
		Temperature: b.temperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty completion from model %s", b.model)
	}
	return resp.Choices[0].Message.Content, nil
}

func (b *openAIBackend) contextLimit(ctx context.Context) (int, error) {
	for _, w := range openAIContextWindows {
		if strings.HasPrefix(b.model, w.prefix) {
			return w.tokens, nil
		}
	}
	return 0, nil
}

func (b *openAIBackend) classifyTransport(err error) (models.ErrorType, bool) {
	var apiErr *openaigo.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 404:
			return models.ErrorTypeNotFound, true
		case apiErr.HTTPStatusCode >= 500:
			return models.ErrorTypeServer, true
		}
		return models.ErrorTypeUnknown, true
	}

	var reqErr *openaigo.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == 404 {
			return models.ErrorTypeNotFound, true
		}
		if reqErr.HTTPStatusCode >= 500 {
			return models.ErrorTypeServer, true
		}
		return models.ErrorTypeNetwork, true
	}
	return models.ErrorTypeUnknown, false
}
