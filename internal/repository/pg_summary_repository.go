package repository

import (
	"context"
	"errors"
	"fmt"

	"tale-server/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	// One overwritten row per session: only the latest summary is kept.
	upsertSummaryQuery = `
        INSERT INTO story_summaries (session_id, summary, step_count, through_entry_id, created_at, updated_at)
        VALUES ($1, $2, $3, $4, NOW(), NOW())
        ON CONFLICT (session_id) DO UPDATE SET
            summary = EXCLUDED.summary,
            step_count = EXCLUDED.step_count,
            through_entry_id = EXCLUDED.through_entry_id,
            updated_at = NOW()
    `
	getSummaryBySessionQuery = `
        SELECT session_id, summary, step_count, through_entry_id, created_at, updated_at
        FROM story_summaries
        WHERE session_id = $1
    `
)

type pgSummaryRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPgSummaryRepository creates a new PostgreSQL-backed SummaryRepository.
func NewPgSummaryRepository(pool *pgxpool.Pool, logger *zap.Logger) SummaryRepository {
	return &pgSummaryRepository{
		pool:   pool,
		logger: logger.Named("SummaryRepo"),
	}
}

func (r *pgSummaryRepository) Upsert(ctx context.Context, summary *models.StorySummary) error {
	_, err := r.pool.Exec(ctx, upsertSummaryQuery,
		summary.SessionID, summary.Summary, summary.StepCount, summary.ThroughEntryID)
	if err != nil {
		r.logger.Error("Error upserting story summary",
			zap.String("session_id", summary.SessionID.String()), zap.Error(err))
		return fmt.Errorf("failed to upsert summary for session %s: %w", summary.SessionID, err)
	}
	return nil
}

func (r *pgSummaryRepository) GetBySession(ctx context.Context, sessionID uuid.UUID) (*models.StorySummary, error) {
	var summary models.StorySummary
	if err := pgxscan.Get(ctx, r.pool, &summary, getSummaryBySessionQuery, sessionID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrSummaryNotFound
		}
		r.logger.Error("Error getting story summary",
			zap.String("session_id", sessionID.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to get summary for session %s: %w", sessionID, err)
	}
	return &summary, nil
}
