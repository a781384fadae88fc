package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tale-server/internal/engine"
	"tale-server/internal/models"
	repomocks "tale-server/internal/repository/mocks"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockGameService struct {
	mock.Mock
}

func (m *mockGameService) StartGame(ctx context.Context, initialPrompt string) error {
	return m.Called(ctx, initialPrompt).Error(0)
}

func (m *mockGameService) UpdateGame(ctx context.Context, choice string) error {
	return m.Called(ctx, choice).Error(0)
}

func (m *mockGameService) RetryLastAction(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockGameService) ResetGame(preserveSessionID bool) {
	m.Called(preserveSessionID)
}

func (m *mockGameService) Snapshot() engine.Snapshot {
	return m.Called().Get(0).(engine.Snapshot)
}

func (m *mockGameService) LastError() *models.ErrorClassification {
	ret := m.Called()
	if ret.Get(0) == nil {
		return nil
	}
	return ret.Get(0).(*models.ErrorClassification)
}

func (m *mockGameService) ExportGameState() models.GameStateExport {
	return m.Called().Get(0).(models.GameStateExport)
}

func (m *mockGameService) ExportSession() (models.SessionExport, error) {
	ret := m.Called()
	return ret.Get(0).(models.SessionExport), ret.Error(1)
}

func (m *mockGameService) ImportGameState(ctx context.Context, export models.GameStateExport) error {
	return m.Called(ctx, export).Error(0)
}

func (m *mockGameService) ImportSession(ctx context.Context, export models.SessionExport) error {
	return m.Called(ctx, export).Error(0)
}

var _ GameService = (*mockGameService)(nil)

func playingSnapshot() engine.Snapshot {
	return engine.Snapshot{
		State: models.GameState{
			SessionID: uuid.New(),
			Phase:     models.PhasePlaying,
		},
	}
}

func newTestRouter(game GameService, sessions *repomocks.SessionRepository) *gin.Engine {
	return newTestRouterWithSteps(game, sessions, new(repomocks.StepRepository))
}

func newTestRouterWithSteps(game GameService, sessions *repomocks.SessionRepository, steps *repomocks.StepRepository) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewGameHandler(game, sessions, steps, zap.NewNop())
	h.RegisterRoutes(r, nil)
	return r
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStartGameEndpoint(t *testing.T) {
	game := new(mockGameService)
	game.On("StartGame", mock.Anything, "a haunted lighthouse").Return(nil).Once()
	game.On("Snapshot").Return(playingSnapshot()).Once()

	r := newTestRouter(game, new(repomocks.SessionRepository))
	w := doRequest(r, http.MethodPost, "/api/game/start", `{"prompt":"a haunted lighthouse"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp engine.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.PhasePlaying, resp.State.Phase)
	game.AssertExpectations(t)
}

func TestStartGameFailureCarriesClassification(t *testing.T) {
	game := new(mockGameService)
	game.On("StartGame", mock.Anything, mock.Anything).Return(errors.New("turn failed")).Once()
	game.On("LastError").Return(&models.ErrorClassification{
		Type:      models.ErrorTypeNetwork,
		Message:   "backend unreachable",
		Retryable: true,
		Action:    models.ActionRetry,
	}).Once()

	r := newTestRouter(game, new(repomocks.SessionRepository))
	w := doRequest(r, http.MethodPost, "/api/game/start", `{"prompt":"x"}`)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "backend unreachable")
	assert.Contains(t, w.Body.String(), `"retryable":true`)
}

func TestMakeChoiceEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		serviceErr error
		wantCode   int
	}{
		{"success", `{"choice":"open the door"}`, nil, http.StatusOK},
		{"missing choice", `{}`, nil, http.StatusBadRequest},
		{"wrong phase", `{"choice":"go"}`, models.ErrWrongPhase, http.StatusConflict},
		{"empty choice", `{"choice":" "}`, models.ErrEmptyChoice, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			game := new(mockGameService)
			if tt.body != `{}` {
				game.On("UpdateGame", mock.Anything, mock.Anything).Return(tt.serviceErr).Once()
			}
			if tt.serviceErr == nil {
				game.On("Snapshot").Return(playingSnapshot()).Maybe()
			}

			r := newTestRouter(game, new(repomocks.SessionRepository))
			w := doRequest(r, http.MethodPost, "/api/game/choice", tt.body)

			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestRetryEndpointConflictWithoutPendingAction(t *testing.T) {
	game := new(mockGameService)
	game.On("RetryLastAction", mock.Anything).Return(models.ErrNoActionToRetry).Once()

	r := newTestRouter(game, new(repomocks.SessionRepository))
	w := doRequest(r, http.MethodPost, "/api/game/retry", "")

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestResetEndpoint(t *testing.T) {
	game := new(mockGameService)
	game.On("ResetGame", true).Once()
	game.On("Snapshot").Return(engine.Snapshot{
		State: models.GameState{Phase: models.PhaseMenu},
	}).Once()

	r := newTestRouter(game, new(repomocks.SessionRepository))
	w := doRequest(r, http.MethodPost, "/api/game/reset", `{"preserveSessionId":true}`)

	assert.Equal(t, http.StatusOK, w.Code)
	game.AssertExpectations(t)
}

func TestGetStateEndpoint(t *testing.T) {
	game := new(mockGameService)
	game.On("Snapshot").Return(playingSnapshot()).Once()

	r := newTestRouter(game, new(repomocks.SessionRepository))
	w := doRequest(r, http.MethodGet, "/api/game/state", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"currentState":"playing"`)
}

func TestImportEndpointRejectsInvalidPayload(t *testing.T) {
	game := new(mockGameService)
	game.On("ImportGameState", mock.Anything, mock.Anything).Return(models.ErrInvalidImport).Once()

	r := newTestRouter(game, new(repomocks.SessionRepository))
	w := doRequest(r, http.MethodPost, "/api/game/import", `{"version":"1"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportSessionWithoutSession(t *testing.T) {
	game := new(mockGameService)
	game.On("ExportSession").Return(models.SessionExport{}, models.ErrSessionNotFound).Once()

	r := newTestRouter(game, new(repomocks.SessionRepository))
	w := doRequest(r, http.MethodGet, "/api/game/export/session", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListSessionsEndpoint(t *testing.T) {
	sessions := new(repomocks.SessionRepository)
	sessions.On("List", mock.Anything).Return([]*models.Session{
		{ID: uuid.New(), Title: "First Adventure", CreatedAt: time.Now()},
	}, nil).Once()

	r := newTestRouter(new(mockGameService), sessions)
	w := doRequest(r, http.MethodGet, "/api/sessions", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "First Adventure")
}

func TestListSessionStepsEndpoint(t *testing.T) {
	id := uuid.New()

	sessions := new(repomocks.SessionRepository)
	sessions.On("GetByID", mock.Anything, id).Return(&models.Session{ID: id}, nil).Once()
	steps := new(repomocks.StepRepository)
	steps.On("ListBySession", mock.Anything, id).Return([]*models.StoryStep{
		{ID: uuid.New(), SessionID: id, StepIndex: 0, Entry: models.StoryEntry{Narrative: "The tale begins."}},
	}, nil).Once()

	r := newTestRouterWithSteps(new(mockGameService), sessions, steps)
	w := doRequest(r, http.MethodGet, "/api/sessions/"+id.String()+"/steps", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "The tale begins.")

	// Unknown session is a 404, not an empty list.
	sessions.On("GetByID", mock.Anything, mock.Anything).Return(nil, models.ErrSessionNotFound).Once()
	w = doRequest(r, http.MethodGet, "/api/sessions/"+uuid.NewString()+"/steps", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteSessionEndpoint(t *testing.T) {
	id := uuid.New()

	sessions := new(repomocks.SessionRepository)
	sessions.On("Delete", mock.Anything, id).Return(nil).Once()

	r := newTestRouter(new(mockGameService), sessions)
	w := doRequest(r, http.MethodDelete, "/api/sessions/"+id.String(), "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(r, http.MethodDelete, "/api/sessions/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	sessions.On("Delete", mock.Anything, mock.Anything).Return(models.ErrSessionNotFound).Once()
	w = doRequest(r, http.MethodDelete, "/api/sessions/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(new(mockGameService), new(repomocks.SessionRepository))
	w := doRequest(r, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}
