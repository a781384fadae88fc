package engine

import (
	"context"
	"strings"
	"time"

	"tale-server/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExportGameState snapshots the current state into a portable envelope.
func (e *Engine) ExportGameState() models.GameStateExport {
	e.mu.Lock()
	defer e.mu.Unlock()

	return models.GameStateExport{
		Version:    models.ExportVersion,
		ExportedAt: time.Now().UTC(),
		State:      *e.state.Clone(),
	}
}

// ExportSession snapshots the session and its state together, sufficient
// to restore play on another install.
func (e *Engine) ExportSession() (models.SessionExport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return models.SessionExport{}, models.ErrSessionNotFound
	}
	return models.SessionExport{
		Version:    models.ExportVersion,
		ExportedAt: time.Now().UTC(),
		Session:    *e.session,
		State:      *e.state.Clone(),
	}, nil
}

// ImportGameState replaces the engine's state with an exported snapshot
// and resumes in the PLAYING phase. Action entries from before outcome
// tracking get their labels backfilled.
func (e *Engine) ImportGameState(ctx context.Context, export models.GameStateExport) error {
	if err := export.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.importGameStateLocked(ctx, export)
}

func (e *Engine) importGameStateLocked(ctx context.Context, export models.GameStateExport) error {
	state := export.State.Clone()
	e.backfillOutcomes(state)
	state.Phase = models.PhasePlaying
	state.ContextTokens = estimateHistoryTokens(state.Messages)

	if state.SessionID == uuid.Nil {
		state.SessionID = uuid.New()
	}
	if e.session == nil || e.session.ID != state.SessionID {
		now := time.Now().UTC()
		e.session = &models.Session{
			ID:         state.SessionID,
			Title:      importedTitle(state),
			SeedPrompt: "",
			Config: models.ConfigSnapshot{
				Provider:     e.cfg.AIProvider,
				Model:        e.cfg.AIModel,
				ImageEnabled: e.images != nil,
			},
			CreatedAt:    now,
			LastPlayedAt: now,
		}
	}

	e.state = state
	e.currentSummary = ""
	e.stepCount = len(state.StoryLog)
	e.pendingAction = ""
	e.lastError = nil
	e.retriesLeft = e.cfg.AIMaxRetries

	if e.state.ContextLimit == 0 {
		e.probeContextLimitLocked(ctx)
	}

	if err := e.sessions.Upsert(ctx, e.session); err != nil {
		e.logger.Warn("Failed to persist imported session", zap.Error(err))
	}
	e.persistSummaryLocked(ctx)

	e.logger.Info("Game state imported",
		zap.String("session_id", e.state.SessionID.String()),
		zap.Int("story_entries", len(e.state.StoryLog)))

	e.notifyStateLocked()
	return nil
}

// ImportSession restores a full session export, session metadata included.
func (e *Engine) ImportSession(ctx context.Context, export models.SessionExport) error {
	stateExport := models.GameStateExport{
		Version: export.Version,
		State:   export.State,
	}
	if err := stateExport.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	session := export.Session
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	session.LastPlayedAt = time.Now().UTC()
	e.session = &session
	stateExport.State.SessionID = session.ID

	return e.importGameStateLocked(ctx, stateExport)
}

// backfillOutcomes assigns labels to pre-outcome action entries: the
// opening action is a start, the rest are resolved as if freshly rolled.
func (e *Engine) backfillOutcomes(state *models.GameState) {
	for i := range state.ActionLog {
		if state.ActionLog[i].Outcome != "" {
			continue
		}
		if i == 0 {
			state.ActionLog[i].Outcome = models.OutcomeStart
		} else {
			state.ActionLog[i].Outcome = e.resolver.Resolve(state.ActionLog[i].Text)
		}
	}
}

func importedTitle(state *models.GameState) string {
	if len(state.StoryLog) > 0 {
		if title := strings.TrimSpace(truncateText(state.StoryLog[0].Narrative, 60)); title != "" {
			return title
		}
	}
	return "Imported Adventure"
}
