// Package ai implements the text-generator collaborator: an
// OpenAI-compatible backend and an Ollama backend behind one interface,
// with response cleaning, required-field validation, a bounded retry loop
// and error classification for the engine.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"tale-server/internal/config"
	"tale-server/internal/models"
	"tale-server/pkg/jsonrepair"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// ErrGenerationFailed wraps any upstream failure of the text backend.
var ErrGenerationFailed = errors.New("text generation failed")

var (
	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tale_server_ai_requests_total",
			Help: "Total number of requests to the text generation backend.",
		},
		[]string{"provider", "model", "status"},
	)
	aiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tale_server_ai_request_duration_seconds",
			Help:    "Histogram of text generation request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "model"},
	)
	aiRepairsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tale_server_ai_response_repairs_total",
			Help: "Count of repair steps applied to malformed responses.",
		},
		[]string{"provider", "model", "repair"},
	)
)

// Client is the engine-facing contract of the text generator.
type Client interface {
	// CallWithRetry sends the conversation to the backend and returns a
	// structured response satisfying the required-field schema. Transport
	// failures, parse failures and missing fields are each retried up to
	// maxRetries times before the last error is surfaced.
	CallWithRetry(ctx context.Context, systemPrompt string, history []models.ChatMessage, fields []jsonrepair.Field, maxRetries int) (map[string]any, error)

	// ClassifyError maps a raw failure into the engine's error taxonomy.
	ClassifyError(err error) models.ErrorClassification

	// GetContextLimit reports the backend's context window in tokens.
	// Zero with a nil error means the backend could not be measured.
	GetContextLimit(ctx context.Context) (int, error)

	// Model names the configured generation model.
	Model() string
}

// backend is the raw transport each provider implements.
type backend interface {
	complete(ctx context.Context, systemPrompt string, history []models.ChatMessage) (string, error)
	contextLimit(ctx context.Context) (int, error)
	// classifyTransport maps provider-specific errors; ok=false means the
	// error was not recognized by the provider.
	classifyTransport(err error) (models.ErrorType, bool)
	provider() string
}

type client struct {
	backend       backend
	model         string
	limitOverride int
	logger        *zap.Logger
}

// NewClient builds a text-generator client for the configured provider.
func NewClient(cfg *config.Config, logger *zap.Logger) (Client, error) {
	log := logger.Named("AIClient")
	var b backend
	switch strings.ToLower(cfg.AIProvider) {
	case "", "openai":
		b = newOpenAIBackend(cfg)
	case "ollama":
		ob, err := newOllamaBackend(cfg)
		if err != nil {
			return nil, err
		}
		b = ob
	default:
		return nil, fmt.Errorf("unknown AI provider: %s", cfg.AIProvider)
	}
	log.Info("Text generator client created",
		zap.String("provider", b.provider()),
		zap.String("model", cfg.AIModel))
	return &client{
		backend:       b,
		model:         cfg.AIModel,
		limitOverride: cfg.AIContextLimit,
		logger:        log,
	}, nil
}

func (c *client) Model() string { return c.model }

func (c *client) CallWithRetry(ctx context.Context, systemPrompt string, history []models.ChatMessage, fields []jsonrepair.Field, maxRetries int) (map[string]any, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, ctx.Err())
			case <-time.After(time.Duration(attempt-1) * time.Second):
			}
		}

		start := time.Now()
		raw, err := c.backend.complete(ctx, systemPrompt, history)
		duration := time.Since(start)
		aiRequestDuration.With(prometheus.Labels{"provider": c.backend.provider(), "model": c.model}).Observe(duration.Seconds())

		if err != nil {
			aiRequestsTotal.With(prometheus.Labels{"provider": c.backend.provider(), "model": c.model, "status": "error"}).Inc()
			c.logger.Warn("Text generation request failed",
				zap.Int("attempt", attempt),
				zap.Duration("duration", duration),
				zap.Error(err))
			lastErr = fmt.Errorf("%w: %v", ErrGenerationFailed, err)
			if cls := c.ClassifyError(err); !cls.Retryable {
				return nil, lastErr
			}
			continue
		}

		obj, repairs, parseErr := jsonrepair.CleanAndParse(raw)
		for _, r := range repairs {
			aiRepairsTotal.With(prometheus.Labels{"provider": c.backend.provider(), "model": c.model, "repair": string(r)}).Inc()
		}
		if parseErr != nil {
			aiRequestsTotal.With(prometheus.Labels{"provider": c.backend.provider(), "model": c.model, "status": "parse_error"}).Inc()
			c.logger.Warn("Response is not parseable after repair",
				zap.Int("attempt", attempt),
				zap.Int("response_len", len(raw)),
				zap.Error(parseErr))
			lastErr = parseErr
			continue
		}

		if missing := jsonrepair.Validate(obj, fields); len(missing) > 0 {
			aiRequestsTotal.With(prometheus.Labels{"provider": c.backend.provider(), "model": c.model, "status": "validation_error"}).Inc()
			c.logger.Warn("Response is missing required fields",
				zap.Int("attempt", attempt),
				zap.Strings("missing", missing))
			lastErr = &models.ResponseValidationError{Missing: missing, Partial: obj}
			continue
		}

		aiRequestsTotal.With(prometheus.Labels{"provider": c.backend.provider(), "model": c.model, "status": "success"}).Inc()
		if len(repairs) > 0 {
			c.logger.Debug("Response repaired before parse", zap.Int("repairs", len(repairs)))
		}
		return obj, nil
	}
	return nil, lastErr
}

func (c *client) ClassifyError(err error) models.ErrorClassification {
	var parseErr *jsonrepair.ParseError
	var validationErr *models.ResponseValidationError

	switch {
	case err == nil:
		return models.ErrorClassification{Type: models.ErrorTypeUnknown, Message: "no error", Retryable: false, Action: models.ActionReport}
	case errors.As(err, &validationErr):
		return models.ErrorClassification{
			Type:      models.ErrorTypeValidation,
			Message:   "The storyteller's response was incomplete. Retrying usually helps.",
			Retryable: true,
			Action:    models.ActionRetry,
		}
	case errors.As(err, &parseErr):
		return models.ErrorClassification{
			Type:      models.ErrorTypeParse,
			Message:   "The storyteller's response could not be understood. Retrying usually helps.",
			Retryable: true,
			Action:    models.ActionRetry,
		}
	}

	if t, ok := c.backend.classifyTransport(err); ok {
		switch t {
		case models.ErrorTypeNotFound:
			return models.ErrorClassification{
				Type:      models.ErrorTypeNotFound,
				Message:   "The configured model or endpoint was not found.",
				Retryable: false,
				Action:    models.ActionCheckEndpoint,
			}
		case models.ErrorTypeServer:
			return models.ErrorClassification{
				Type:      models.ErrorTypeServer,
				Message:   "The text backend reported an internal error.",
				Retryable: true,
				Action:    models.ActionCheckBackend,
			}
		case models.ErrorTypeNetwork:
			return models.ErrorClassification{
				Type:      models.ErrorTypeNetwork,
				Message:   "Could not reach the text backend.",
				Retryable: true,
				Action:    models.ActionCheckBackend,
			}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return models.ErrorClassification{
			Type:      models.ErrorTypeNetwork,
			Message:   "Could not reach the text backend.",
			Retryable: true,
			Action:    models.ActionCheckBackend,
		}
	}

	return models.ErrorClassification{
		Type:      models.ErrorTypeUnknown,
		Message:   "Something unexpected went wrong while generating the story.",
		Retryable: true,
		Action:    models.ActionRetry,
	}
}

func (c *client) GetContextLimit(ctx context.Context) (int, error) {
	if c.limitOverride > 0 {
		return c.limitOverride, nil
	}
	return c.backend.contextLimit(ctx)
}
