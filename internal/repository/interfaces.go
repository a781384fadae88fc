// Package repository defines the persistence collaborator contracts and
// their PostgreSQL/Redis implementations. From the engine's perspective
// every write during a turn is best-effort: failures are logged and play
// continues from the in-memory state.
package repository

import (
	"context"
	"encoding/json"

	"tale-server/internal/models"

	"github.com/google/uuid"
)

// SessionRepository stores session identity and metadata.
type SessionRepository interface {
	Upsert(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	List(ctx context.Context) ([]*models.Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// SummaryRepository stores one overwritten summary row per session.
type SummaryRepository interface {
	Upsert(ctx context.Context, summary *models.StorySummary) error
	GetBySession(ctx context.Context, sessionID uuid.UUID) (*models.StorySummary, error)
}

// StepRepository appends persisted turns and reads them back in order.
type StepRepository interface {
	Append(ctx context.Context, step *models.StoryStep) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.StoryStep, error)
}

// ConfigRepository is a keyed store for configuration blobs by label.
type ConfigRepository interface {
	Upsert(ctx context.Context, label string, value json.RawMessage) error
	GetByLabel(ctx context.Context, label string) (json.RawMessage, error)
}

// ContextLimitCache remembers probed context windows across restarts.
// Implementations return models.ErrNotFound on a miss.
type ContextLimitCache interface {
	Get(ctx context.Context, model string) (int, error)
	Set(ctx context.Context, model string, limit int) error
}
