package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tale-server/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	appendStepQuery = `
        INSERT INTO story_steps (id, session_id, step_index, entry, action, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	listStepsBySessionQuery = `
        SELECT id, session_id, step_index, entry, action, created_at
        FROM story_steps
        WHERE session_id = $1
        ORDER BY step_index ASC
    `
)

type stepRow struct {
	ID        uuid.UUID `db:"id"`
	SessionID uuid.UUID `db:"session_id"`
	StepIndex int       `db:"step_index"`
	Entry     []byte    `db:"entry"`
	Action    []byte    `db:"action"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *stepRow) toModel() (*models.StoryStep, error) {
	step := &models.StoryStep{
		ID:        r.ID,
		SessionID: r.SessionID,
		StepIndex: r.StepIndex,
		CreatedAt: r.CreatedAt,
	}
	if err := json.Unmarshal(r.Entry, &step.Entry); err != nil {
		return nil, fmt.Errorf("failed to decode step entry: %w", err)
	}
	if len(r.Action) > 0 {
		step.Action = &models.ActionEntry{}
		if err := json.Unmarshal(r.Action, step.Action); err != nil {
			return nil, fmt.Errorf("failed to decode step action: %w", err)
		}
	}
	return step, nil
}

type pgStepRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPgStepRepository creates a new PostgreSQL-backed StepRepository.
func NewPgStepRepository(pool *pgxpool.Pool, logger *zap.Logger) StepRepository {
	return &pgStepRepository{
		pool:   pool,
		logger: logger.Named("StepRepo"),
	}
}

func (r *pgStepRepository) Append(ctx context.Context, step *models.StoryStep) error {
	entryJSON, err := json.Marshal(step.Entry)
	if err != nil {
		return fmt.Errorf("failed to encode step entry: %w", err)
	}
	var actionJSON []byte
	if step.Action != nil {
		if actionJSON, err = json.Marshal(step.Action); err != nil {
			return fmt.Errorf("failed to encode step action: %w", err)
		}
	}

	_, err = r.pool.Exec(ctx, appendStepQuery,
		step.ID, step.SessionID, step.StepIndex, entryJSON, actionJSON, step.CreatedAt)
	if err != nil {
		r.logger.Error("Error appending story step",
			zap.String("session_id", step.SessionID.String()),
			zap.Int("step_index", step.StepIndex),
			zap.Error(err))
		return fmt.Errorf("failed to append step %d for session %s: %w", step.StepIndex, step.SessionID, err)
	}
	return nil
}

func (r *pgStepRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.StoryStep, error) {
	var rows []*stepRow
	if err := pgxscan.Select(ctx, r.pool, &rows, listStepsBySessionQuery, sessionID); err != nil {
		r.logger.Error("Error listing story steps",
			zap.String("session_id", sessionID.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to list steps for session %s: %w", sessionID, err)
	}

	steps := make([]*models.StoryStep, 0, len(rows))
	for _, row := range rows {
		step, err := row.toModel()
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}
