package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tale-server/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	sessionFields = `id, title, seed_prompt, config, created_at, last_played_at`

	upsertSessionQuery = `
        INSERT INTO sessions (id, title, seed_prompt, config, created_at, last_played_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (id) DO UPDATE SET
            title = EXCLUDED.title,
            last_played_at = EXCLUDED.last_played_at
    `
	getSessionByIDQuery = `SELECT ` + sessionFields + ` FROM sessions WHERE id = $1`
	listSessionsQuery   = `SELECT ` + sessionFields + ` FROM sessions ORDER BY last_played_at DESC`
	deleteSessionQuery  = `DELETE FROM sessions WHERE id = $1`
)

type sessionRow struct {
	ID           uuid.UUID `db:"id"`
	Title        string    `db:"title"`
	SeedPrompt   string    `db:"seed_prompt"`
	Config       []byte    `db:"config"`
	CreatedAt    time.Time `db:"created_at"`
	LastPlayedAt time.Time `db:"last_played_at"`
}

func (r *sessionRow) toModel() (*models.Session, error) {
	s := &models.Session{
		ID:           r.ID,
		Title:        r.Title,
		SeedPrompt:   r.SeedPrompt,
		CreatedAt:    r.CreatedAt,
		LastPlayedAt: r.LastPlayedAt,
	}
	if len(r.Config) > 0 {
		if err := json.Unmarshal(r.Config, &s.Config); err != nil {
			return nil, fmt.Errorf("failed to decode session config: %w", err)
		}
	}
	return s, nil
}

type pgSessionRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPgSessionRepository creates a new PostgreSQL-backed SessionRepository.
func NewPgSessionRepository(pool *pgxpool.Pool, logger *zap.Logger) SessionRepository {
	return &pgSessionRepository{
		pool:   pool,
		logger: logger.Named("SessionRepo"),
	}
}

func (r *pgSessionRepository) Upsert(ctx context.Context, session *models.Session) error {
	configJSON, err := json.Marshal(session.Config)
	if err != nil {
		return fmt.Errorf("failed to encode session config: %w", err)
	}

	_, err = r.pool.Exec(ctx, upsertSessionQuery,
		session.ID, session.Title, session.SeedPrompt, configJSON,
		session.CreatedAt, session.LastPlayedAt)
	if err != nil {
		r.logger.Error("Error upserting session", zap.String("session_id", session.ID.String()), zap.Error(err))
		return fmt.Errorf("failed to upsert session %s: %w", session.ID, err)
	}
	return nil
}

func (r *pgSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	var row sessionRow
	if err := pgxscan.Get(ctx, r.pool, &row, getSessionByIDQuery, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrSessionNotFound
		}
		r.logger.Error("Error getting session", zap.String("session_id", id.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return row.toModel()
}

func (r *pgSessionRepository) List(ctx context.Context) ([]*models.Session, error) {
	var rows []*sessionRow
	if err := pgxscan.Select(ctx, r.pool, &rows, listSessionsQuery); err != nil {
		r.logger.Error("Error listing sessions", zap.Error(err))
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]*models.Session, 0, len(rows))
	for _, row := range rows {
		s, err := row.toModel()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func (r *pgSessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, deleteSessionQuery, id)
	if err != nil {
		r.logger.Error("Error deleting session", zap.String("session_id", id.String()), zap.Error(err))
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}
