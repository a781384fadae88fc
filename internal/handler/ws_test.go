package handler

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tale-server/internal/engine"
	"tale-server/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dialTestSocket(t *testing.T, manager *ConnectionManager) *websocket.Conn {
	t.Helper()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", manager.ServeWS)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool {
		return manager.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	return conn
}

func TestNotifyStateReachesClient(t *testing.T) {
	manager := NewConnectionManager(zap.NewNop())
	conn := dialTestSocket(t, manager)

	manager.NotifyState(engine.Snapshot{
		State: models.GameState{Phase: models.PhasePlaying},
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	var envelope wsEnvelope
	require.NoError(t, json.Unmarshal(message, &envelope))
	assert.Equal(t, "state", envelope.Type)
}

func TestNotifyErrorReachesClient(t *testing.T) {
	manager := NewConnectionManager(zap.NewNop())
	conn := dialTestSocket(t, manager)

	manager.NotifyError(models.ErrorClassification{
		Type:      models.ErrorTypeNetwork,
		Message:   "backend unreachable",
		Retryable: true,
	}, 2)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	var envelope wsEnvelope
	require.NoError(t, json.Unmarshal(message, &envelope))
	assert.Equal(t, "error", envelope.Type)
	assert.Contains(t, string(message), `"retriesLeft":2`)
}

func TestSlowClientDroppedWithoutBlocking(t *testing.T) {
	manager := NewConnectionManager(zap.NewNop())

	// A client whose writePump never runs: its queue fills up and the
	// broadcaster must drop it instead of blocking.
	stuck := &wsClient{
		id:   uuid.New(),
		send: make(chan []byte, 1),
	}
	manager.mu.Lock()
	manager.clients[stuck.id] = stuck
	manager.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			manager.NotifyState(engine.Snapshot{
				State: models.GameState{Phase: models.PhasePlaying},
			})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
	assert.Zero(t, manager.ClientCount())
}
