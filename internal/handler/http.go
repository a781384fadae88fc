package handler

import (
	"context"
	"errors"
	"net/http"

	"tale-server/internal/engine"
	"tale-server/internal/models"
	"tale-server/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GameService is the engine surface the HTTP layer depends on.
type GameService interface {
	StartGame(ctx context.Context, initialPrompt string) error
	UpdateGame(ctx context.Context, choice string) error
	RetryLastAction(ctx context.Context) error
	ResetGame(preserveSessionID bool)
	Snapshot() engine.Snapshot
	LastError() *models.ErrorClassification
	ExportGameState() models.GameStateExport
	ExportSession() (models.SessionExport, error)
	ImportGameState(ctx context.Context, export models.GameStateExport) error
	ImportSession(ctx context.Context, export models.SessionExport) error
}

var _ GameService = (*engine.Engine)(nil)

// APIError is the standardized error response body.
type APIError struct {
	Message string `json:"message"`
}

type startGameRequest struct {
	Prompt string `json:"prompt"`
}

type makeChoiceRequest struct {
	Choice string `json:"choice" binding:"required"`
}

type resetGameRequest struct {
	PreserveSessionID bool `json:"preserveSessionId"`
}

// GameHandler exposes the engine over HTTP.
type GameHandler struct {
	game     GameService
	sessions repository.SessionRepository
	steps    repository.StepRepository
	logger   *zap.Logger
}

// NewGameHandler creates the HTTP handler.
func NewGameHandler(game GameService, sessions repository.SessionRepository, steps repository.StepRepository, logger *zap.Logger) *GameHandler {
	return &GameHandler{
		game:     game,
		sessions: sessions,
		steps:    steps,
		logger:   logger.Named("GameHandler"),
	}
}

// RegisterRoutes mounts the API on the router.
func (h *GameHandler) RegisterRoutes(r gin.IRouter, ws *ConnectionManager) {
	api := r.Group("/api")

	game := api.Group("/game")
	game.POST("/start", h.startGame)
	game.POST("/choice", h.makeChoice)
	game.POST("/retry", h.retryAction)
	game.POST("/reset", h.resetGame)
	game.GET("/state", h.getState)
	game.GET("/export", h.exportState)
	game.POST("/import", h.importState)
	game.GET("/export/session", h.exportSession)
	game.POST("/import/session", h.importSession)

	api.GET("/sessions", h.listSessions)
	api.GET("/sessions/:id/steps", h.listSessionSteps)
	api.DELETE("/sessions/:id", h.deleteSession)

	if ws != nil {
		r.GET("/ws", ws.ServeWS)
	}
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func (h *GameHandler) startGame(c *gin.Context) {
	var req startGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "invalid request body"})
		return
	}

	if err := h.game.StartGame(c.Request.Context(), req.Prompt); err != nil {
		h.respondTurnError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.game.Snapshot())
}

func (h *GameHandler) makeChoice(c *gin.Context) {
	var req makeChoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "choice is required"})
		return
	}

	if err := h.game.UpdateGame(c.Request.Context(), req.Choice); err != nil {
		h.respondTurnError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.game.Snapshot())
}

func (h *GameHandler) retryAction(c *gin.Context) {
	if err := h.game.RetryLastAction(c.Request.Context()); err != nil {
		h.respondTurnError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.game.Snapshot())
}

func (h *GameHandler) resetGame(c *gin.Context) {
	var req resetGameRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, APIError{Message: "invalid request body"})
			return
		}
	}

	h.game.ResetGame(req.PreserveSessionID)
	c.JSON(http.StatusOK, h.game.Snapshot())
}

func (h *GameHandler) getState(c *gin.Context) {
	c.JSON(http.StatusOK, h.game.Snapshot())
}

func (h *GameHandler) exportState(c *gin.Context) {
	c.JSON(http.StatusOK, h.game.ExportGameState())
}

func (h *GameHandler) importState(c *gin.Context) {
	var export models.GameStateExport
	if err := c.ShouldBindJSON(&export); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "invalid export payload"})
		return
	}

	if err := h.game.ImportGameState(c.Request.Context(), export); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.game.Snapshot())
}

func (h *GameHandler) exportSession(c *gin.Context) {
	export, err := h.game.ExportSession()
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, export)
}

func (h *GameHandler) importSession(c *gin.Context) {
	var export models.SessionExport
	if err := c.ShouldBindJSON(&export); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "invalid export payload"})
		return
	}

	if err := h.game.ImportSession(c.Request.Context(), export); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.game.Snapshot())
}

func (h *GameHandler) listSessions(c *gin.Context) {
	sessions, err := h.sessions.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list sessions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, APIError{Message: "failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// listSessionSteps returns the persisted turn history of a session in
// step order, for replaying a past adventure.
func (h *GameHandler) listSessionSteps(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "invalid session id"})
		return
	}

	if _, err := h.sessions.GetByID(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}

	steps, err := h.steps.ListBySession(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to list session steps", zap.Error(err))
		c.JSON(http.StatusInternalServerError, APIError{Message: "failed to list steps"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"steps": steps})
}

func (h *GameHandler) deleteSession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "invalid session id"})
		return
	}

	if err := h.sessions.Delete(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// respondTurnError maps a failed turn to a response. Generator failures
// surface the error classification with a 502; state machine violations
// map to conflict or bad request.
func (h *GameHandler) respondTurnError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrWrongPhase), errors.Is(err, models.ErrNoActionToRetry):
		c.JSON(http.StatusConflict, APIError{Message: err.Error()})
	case errors.Is(err, models.ErrEmptyChoice):
		c.JSON(http.StatusBadRequest, APIError{Message: err.Error()})
	default:
		if cls := h.game.LastError(); cls != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": cls})
			return
		}
		h.logger.Error("Unclassified turn failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, APIError{Message: "internal server error"})
	}
}

func (h *GameHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidImport):
		c.JSON(http.StatusBadRequest, APIError{Message: err.Error()})
	case errors.Is(err, models.ErrSessionNotFound), errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, APIError{Message: err.Error()})
	default:
		h.logger.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, APIError{Message: "internal server error"})
	}
}
