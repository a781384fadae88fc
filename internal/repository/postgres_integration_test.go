package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"tale-server/internal/database"
	"tale-server/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func setupTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("tale"),
		tcpostgres.WithUsername("tale"),
		tcpostgres.WithPassword("tale"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := database.NewPool(ctx, dsn, 4, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.RunMigrations(pool, zap.NewNop()))
	return pool
}

func TestPostgresRepositories(t *testing.T) {
	pool := setupTestPool(t)
	ctx := context.Background()
	logger := zap.NewNop()

	sessions := NewPgSessionRepository(pool, logger)
	summaries := NewPgSummaryRepository(pool, logger)
	steps := NewPgStepRepository(pool, logger)
	configs := NewPgConfigRepository(pool, logger)

	t.Run("session round trip", func(t *testing.T) {
		session := &models.Session{
			ID:         uuid.New(),
			Title:      "The Sunken City",
			SeedPrompt: "an underwater ruin",
			Config: models.ConfigSnapshot{
				Provider:     "openai",
				Model:        "gpt-4o-mini",
				ImageEnabled: true,
			},
			CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
			LastPlayedAt: time.Now().UTC().Truncate(time.Millisecond),
		}
		require.NoError(t, sessions.Upsert(ctx, session))

		got, err := sessions.GetByID(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, session.Title, got.Title)
		assert.Equal(t, session.Config, got.Config)

		// Upsert with the same id updates instead of duplicating.
		session.Title = "The Sunken City, Revisited"
		require.NoError(t, sessions.Upsert(ctx, session))

		list, err := sessions.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "The Sunken City, Revisited", list[0].Title)

		require.NoError(t, sessions.Delete(ctx, session.ID))
		_, err = sessions.GetByID(ctx, session.ID)
		assert.ErrorIs(t, err, models.ErrSessionNotFound)
	})

	t.Run("summary is one row per session", func(t *testing.T) {
		session := seedSession(t, ctx, sessions)

		first := &models.StorySummary{
			SessionID: session.ID,
			Summary:   "The hero set out at dawn.",
			StepCount: 1,
		}
		require.NoError(t, summaries.Upsert(ctx, first))

		second := &models.StorySummary{
			SessionID:      session.ID,
			Summary:        "The hero set out at dawn and reached the gates by night.",
			StepCount:      4,
			ThroughEntryID: uuid.New(),
		}
		require.NoError(t, summaries.Upsert(ctx, second))

		got, err := summaries.GetBySession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, second.Summary, got.Summary)
		assert.Equal(t, 4, got.StepCount)

		_, err = summaries.GetBySession(ctx, uuid.New())
		assert.ErrorIs(t, err, models.ErrSummaryNotFound)
	})

	t.Run("steps append and list in order", func(t *testing.T) {
		session := seedSession(t, ctx, sessions)

		for i := 0; i < 3; i++ {
			entry := models.StoryEntry{
				ID:        uuid.New(),
				Narrative: "Something happens.",
				Choices:   []string{"On", "Back"},
				CreatedAt: time.Now().UTC(),
			}
			step := &models.StoryStep{
				ID:        uuid.New(),
				SessionID: session.ID,
				StepIndex: i,
				Entry:     entry,
				CreatedAt: time.Now().UTC(),
			}
			if i > 0 {
				step.Action = &models.ActionEntry{
					Text:      "press on",
					Outcome:   models.OutcomeSuccess,
					CreatedAt: time.Now().UTC(),
				}
			}
			require.NoError(t, steps.Append(ctx, step))
		}

		got, err := steps.ListBySession(ctx, session.ID)
		require.NoError(t, err)
		require.Len(t, got, 3)
		for i, step := range got {
			assert.Equal(t, i, step.StepIndex)
		}
		assert.Nil(t, got[0].Action)
		require.NotNil(t, got[2].Action)
		assert.Equal(t, models.OutcomeSuccess, got[2].Action.Outcome)
	})

	t.Run("config upsert by label", func(t *testing.T) {
		value := json.RawMessage(`{"provider":"ollama","model":"llama3"}`)
		require.NoError(t, configs.Upsert(ctx, "current", value))

		updated := json.RawMessage(`{"provider":"openai","model":"gpt-4o-mini"}`)
		require.NoError(t, configs.Upsert(ctx, "current", updated))

		got, err := configs.GetByLabel(ctx, "current")
		require.NoError(t, err)
		assert.JSONEq(t, string(updated), string(got))

		_, err = configs.GetByLabel(ctx, "missing")
		assert.ErrorIs(t, err, models.ErrConfigNotFound)
	})
}

func seedSession(t *testing.T, ctx context.Context, sessions SessionRepository) *models.Session {
	t.Helper()
	session := &models.Session{
		ID:           uuid.New(),
		Title:        "fixture",
		CreatedAt:    time.Now().UTC(),
		LastPlayedAt: time.Now().UTC(),
	}
	require.NoError(t, sessions.Upsert(ctx, session))
	t.Cleanup(func() { _ = sessions.Delete(ctx, session.ID) })
	return session
}
