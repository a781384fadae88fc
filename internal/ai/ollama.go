package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tale-server/internal/config"
	"tale-server/internal/models"

	"github.com/ollama/ollama/api"
)

type ollamaBackend struct {
	client      *api.Client
	model       string
	temperature float64
}

func newOllamaBackend(cfg *config.Config) (*ollamaBackend, error) {
	// api.NewClient wants the server root, without the /v1 suffix used by
	// the OpenAI-compatible endpoint.
	baseURL := strings.TrimSuffix(cfg.AIBaseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Ollama base URL %q: %w", baseURL, err)
	}

	httpClient := &http.Client{Timeout: cfg.AITimeout + 10*time.Second}
	return &ollamaBackend{
		client:      api.NewClient(parsedURL, httpClient),
		model:       cfg.AIModel,
		temperature: cfg.AITemperature,
	}, nil
}

func (b *ollamaBackend) provider() string { return "ollama" }

func (b *ollamaBackend) complete(ctx context.Context, systemPrompt string, history []models.ChatMessage) (string, error) {
	messages := make([]api.Message, 0, len(history)+1)
	messages = append(messages, api.Message{Role: "system", Content: systemPrompt})
	for _, m := range history {
		messages = append(messages, api.Message{Role: m.Role, Content: m.Content})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    b.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": b.temperature,
		},
	}

	var content strings.Builder
	err := b.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	if content.Len() == 0 {
		return "", fmt.Errorf("empty completion from model %s", b.model)
	}
	return content.String(), nil
}

// contextLimit reads the model's context window from the Ollama model info.
func (b *ollamaBackend) contextLimit(ctx context.Context) (int, error) {
	resp, err := b.client.Show(ctx, &api.ShowRequest{Model: b.model})
	if err != nil {
		return 0, fmt.Errorf("failed to probe model info: %w", err)
	}
	for key, value := range resp.ModelInfo {
		if !strings.HasSuffix(key, ".context_length") {
			continue
		}
		if f, ok := value.(float64); ok {
			return int(f), nil
		}
	}
	return 0, nil
}

func (b *ollamaBackend) classifyTransport(err error) (models.ErrorType, bool) {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusNotFound:
			return models.ErrorTypeNotFound, true
		case statusErr.StatusCode >= 500:
			return models.ErrorTypeServer, true
		}
		return models.ErrorTypeUnknown, true
	}
	return models.ErrorTypeUnknown, false
}
