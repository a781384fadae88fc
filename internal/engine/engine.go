// Package engine implements the narrative-state engine: a state machine
// that owns the game session, sequences generator calls, enforces the
// response contract, breaks repetition loops, compacts context under a
// token budget and triggers detached image enrichment.
package engine

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"tale-server/internal/ai"
	"tale-server/internal/config"
	"tale-server/internal/imagegen"
	"tale-server/internal/models"
	"tale-server/internal/repository"
	"tale-server/pkg/taskmanager"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tale_server_turns_total",
			Help: "Total number of completed game turns.",
		},
		[]string{"result"},
	)
	compactionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tale_server_context_compactions_total",
			Help: "Times the message history was compacted to fit the context budget.",
		},
	)
	repetitionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tale_server_repetition_detected_total",
			Help: "Times the repetition detector biased a prompt.",
		},
	)
)

// Snapshot is the read-only view handed to the presentation layer after
// every mutating transition.
type Snapshot struct {
	Session *models.Session  `json:"session,omitempty"`
	State   models.GameState `json:"state"`
}

// Notifier receives whole-state change notifications and error
// notifications. Implementations must not block; the engine calls them
// while holding its lock.
type Notifier interface {
	NotifyState(snapshot Snapshot)
	NotifyError(classification models.ErrorClassification, retriesLeft int)
}

// Engine is the turn orchestrator. It exclusively owns the Session and
// GameState; every other component receives copies or pure inputs.
type Engine struct {
	mu sync.Mutex

	ai         ai.Client
	images     imagegen.Client // nil disables image enrichment
	sessions   repository.SessionRepository
	summaries  repository.SummaryRepository
	steps      repository.StepRepository
	limits     repository.ContextLimitCache // nil disables the probe cache
	tasks      *taskmanager.Manager
	notifier   Notifier
	resolver   *OutcomeResolver
	summarizer *Summarizer
	logger     *zap.Logger
	cfg        *config.Config

	session        *models.Session
	state          *models.GameState
	currentSummary string
	stepCount      int
	pendingAction  string
	lastError      *models.ErrorClassification
	retriesLeft    int
}

// New creates an engine in the MENU state.
func New(
	cfg *config.Config,
	aiClient ai.Client,
	imageClient imagegen.Client,
	sessions repository.SessionRepository,
	summaries repository.SummaryRepository,
	steps repository.StepRepository,
	limits repository.ContextLimitCache,
	tasks *taskmanager.Manager,
	notifier Notifier,
	logger *zap.Logger,
) *Engine {
	log := logger.Named("Engine")
	return &Engine{
		ai:         aiClient,
		images:     imageClient,
		sessions:   sessions,
		summaries:  summaries,
		steps:      steps,
		limits:     limits,
		tasks:      tasks,
		notifier:   notifier,
		resolver:   NewOutcomeResolver(rand.New(rand.NewSource(time.Now().UnixNano()))),
		summarizer: NewSummarizer(aiClient, log),
		logger:     log,
		cfg:        cfg,
		state:      &models.GameState{Phase: models.PhaseMenu},
	}
}

// Snapshot returns a copy of the current session and game state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// LastError returns the classification of the most recent failed turn,
// or nil when the engine is not in the error state.
func (e *Engine) LastError() *models.ErrorClassification {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastError == nil {
		return nil
	}
	cls := *e.lastError
	return &cls
}

// StartGame allocates a new session seeded with initialPrompt and runs
// the first generator turn.
func (e *Engine) StartGame(ctx context.Context, initialPrompt string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()
	e.session = &models.Session{
		ID:         uuid.New(),
		Title:      deriveTitle(initialPrompt),
		SeedPrompt: initialPrompt,
		Config: models.ConfigSnapshot{
			Provider:     e.cfg.AIProvider,
			Model:        e.cfg.AIModel,
			ImageEnabled: e.images != nil,
		},
		CreatedAt:    now,
		LastPlayedAt: now,
	}
	e.state = models.NewGameState(e.session.ID)
	e.currentSummary = ""
	e.stepCount = 0
	e.pendingAction = ""
	e.lastError = nil
	e.retriesLeft = e.cfg.AIMaxRetries

	if trimmed := strings.TrimSpace(initialPrompt); trimmed != "" {
		e.state.Messages = append(e.state.Messages, models.ChatMessage{
			Role:    models.RoleUser,
			Content: trimmed,
		})
	}

	e.probeContextLimitLocked(ctx)

	if err := e.sessions.Upsert(ctx, e.session); err != nil {
		e.logger.Warn("Failed to persist new session", zap.Error(err))
	}
	if err := e.summaries.Upsert(ctx, &models.StorySummary{
		SessionID: e.session.ID,
		Summary:   "The adventure is just beginning.",
	}); err != nil {
		e.logger.Warn("Failed to persist placeholder summary", zap.Error(err))
	}

	e.logger.Info("Game started",
		zap.String("session_id", e.session.ID.String()),
		zap.Int("context_limit", e.state.ContextLimit))

	return e.executeLLMCallLocked(ctx, nil)
}

// UpdateGame applies a player choice and runs the next turn. Only legal
// while PLAYING.
func (e *Engine) UpdateGame(ctx context.Context, choice string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updateGameLocked(ctx, choice)
}

// RetryLastAction re-submits the action whose turn failed, first clearing
// the error state. Only legal from ERROR.
func (e *Engine) RetryLastAction(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase != models.PhaseError {
		return models.ErrWrongPhase
	}
	if e.pendingAction == "" {
		return models.ErrNoActionToRetry
	}

	action := e.pendingAction
	e.pendingAction = ""
	e.lastError = nil
	e.state.Phase = models.PhasePlaying
	return e.updateGameLocked(ctx, action)
}

// ResetGame clears all logs and memories and returns to the MENU state.
// The session id survives only when preserveSessionID is set (used for
// reload-in-place).
func (e *Engine) ResetGame(preserveSessionID bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sessionID := uuid.Nil
	if preserveSessionID && e.session != nil {
		sessionID = e.session.ID
	} else {
		e.session = nil
	}

	e.state = &models.GameState{Phase: models.PhaseMenu, SessionID: sessionID}
	e.currentSummary = ""
	e.stepCount = 0
	e.pendingAction = ""
	e.lastError = nil
	e.notifyStateLocked()
}

// AttachImage sets the rendered image on the story entry it was generated
// for. Called from detached enrichment tasks; an entry that has been
// compacted away in the meantime is silently skipped.
func (e *Engine) AttachImage(entryID uuid.UUID, data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.state.StoryLog {
		if e.state.StoryLog[i].ID == entryID {
			e.state.StoryLog[i].ImageData = data
			e.notifyStateLocked()
			return
		}
	}
	e.logger.Debug("Image arrived for a story entry no longer in the log",
		zap.String("entry_id", entryID.String()))
}

func (e *Engine) snapshotLocked() Snapshot {
	snap := Snapshot{State: *e.state.Clone()}
	if e.session != nil {
		sessionCopy := *e.session
		snap.Session = &sessionCopy
	}
	return snap
}

func (e *Engine) notifyStateLocked() {
	if e.notifier != nil {
		e.notifier.NotifyState(e.snapshotLocked())
	}
}

// probeContextLimitLocked resolves the backend's context window once per
// session, preferring the cross-restart cache. Failure leaves the limit
// unknown and budgeting inert.
func (e *Engine) probeContextLimitLocked(ctx context.Context) {
	if e.cfg.AIContextLimit > 0 {
		e.state.ContextLimit = e.cfg.AIContextLimit
		return
	}
	model := e.ai.Model()

	if e.limits != nil {
		if limit, err := e.limits.Get(ctx, model); err == nil && limit > 0 {
			e.state.ContextLimit = limit
			return
		} else if err != nil && !errors.Is(err, models.ErrNotFound) {
			e.logger.Warn("Context limit cache lookup failed", zap.Error(err))
		}
	}

	limit, err := e.ai.GetContextLimit(ctx)
	if err != nil {
		e.logger.Warn("Context limit probe failed, budgeting disabled for this session", zap.Error(err))
		return
	}
	e.state.ContextLimit = limit

	if limit > 0 && e.limits != nil {
		if err := e.limits.Set(ctx, model, limit); err != nil {
			e.logger.Warn("Failed to cache context limit", zap.Error(err))
		}
	}
}
