package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tale-server/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	upsertConfigQuery = `
        INSERT INTO engine_configs (label, value, created_at, updated_at)
        VALUES ($1, $2, NOW(), NOW())
        ON CONFLICT (label) DO UPDATE SET
            value = EXCLUDED.value,
            updated_at = NOW()
    `
	getConfigByLabelQuery = `SELECT value FROM engine_configs WHERE label = $1`
)

type pgConfigRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPgConfigRepository creates a new PostgreSQL-backed ConfigRepository.
func NewPgConfigRepository(pool *pgxpool.Pool, logger *zap.Logger) ConfigRepository {
	return &pgConfigRepository{
		pool:   pool,
		logger: logger.Named("ConfigRepo"),
	}
}

func (r *pgConfigRepository) Upsert(ctx context.Context, label string, value json.RawMessage) error {
	if _, err := r.pool.Exec(ctx, upsertConfigQuery, label, value); err != nil {
		r.logger.Error("Error upserting config entry", zap.String("label", label), zap.Error(err))
		return fmt.Errorf("failed to upsert config %q: %w", label, err)
	}
	return nil
}

func (r *pgConfigRepository) GetByLabel(ctx context.Context, label string) (json.RawMessage, error) {
	var value []byte
	if err := pgxscan.Get(ctx, r.pool, &value, getConfigByLabelQuery, label); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrConfigNotFound
		}
		r.logger.Error("Error getting config entry", zap.String("label", label), zap.Error(err))
		return nil, fmt.Errorf("failed to get config %q: %w", label, err)
	}
	return value, nil
}
