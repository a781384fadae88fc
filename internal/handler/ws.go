package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"tale-server/internal/engine"
	"tale-server/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Outbound queue per client. A client that cannot drain this many
	// snapshots is dropped rather than allowed to block the engine.
	sendQueueSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin filtering happens in the CORS middleware; the socket
		// itself accepts any origin.
		return true
	},
}

type wsClient struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
}

// ConnectionManager owns the live websocket connections and fans engine
// notifications out to them. It implements engine.Notifier; both notify
// methods are non-blocking.
type ConnectionManager struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[uuid.UUID]*wsClient
}

// NewConnectionManager creates an empty manager.
func NewConnectionManager(logger *zap.Logger) *ConnectionManager {
	return &ConnectionManager{
		logger:  logger.Named("ConnectionManager"),
		clients: make(map[uuid.UUID]*wsClient),
	}
}

// wsEnvelope is the frame format pushed to clients.
type wsEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Classification models.ErrorClassification `json:"classification"`
	RetriesLeft    int                        `json:"retriesLeft"`
}

// NotifyState pushes a full state snapshot to every connected client.
func (m *ConnectionManager) NotifyState(snapshot engine.Snapshot) {
	m.broadcast(wsEnvelope{Type: "state", Payload: snapshot})
}

// NotifyError pushes an error notification to every connected client.
func (m *ConnectionManager) NotifyError(classification models.ErrorClassification, retriesLeft int) {
	m.broadcast(wsEnvelope{Type: "error", Payload: errorPayload{
		Classification: classification,
		RetriesLeft:    retriesLeft,
	}})
}

func (m *ConnectionManager) broadcast(envelope wsEnvelope) {
	message, err := json.Marshal(envelope)
	if err != nil {
		m.logger.Error("Failed to marshal websocket envelope", zap.Error(err))
		return
	}

	var slow []*wsClient
	m.mu.RLock()
	for _, client := range m.clients {
		select {
		case client.send <- message:
		default:
			slow = append(slow, client)
		}
	}
	m.mu.RUnlock()

	for _, client := range slow {
		m.logger.Warn("Dropping slow websocket client",
			zap.String("client_id", client.id.String()))
		m.unregister(client)
	}
}

// ClientCount reports the number of connected clients.
func (m *ConnectionManager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

func (m *ConnectionManager) register(client *wsClient) {
	m.mu.Lock()
	m.clients[client.id] = client
	m.mu.Unlock()
	m.logger.Info("Websocket client connected", zap.String("client_id", client.id.String()))
}

func (m *ConnectionManager) unregister(client *wsClient) {
	m.mu.Lock()
	current, ok := m.clients[client.id]
	if ok && current == client {
		delete(m.clients, client.id)
		close(client.send)
	}
	m.mu.Unlock()
	if ok {
		if client.conn != nil {
			_ = client.conn.Close()
		}
		m.logger.Info("Websocket client disconnected", zap.String("client_id", client.id.String()))
	}
}

// ServeWS upgrades the request and starts the client's pump goroutines.
func (m *ConnectionManager) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.logger.Error("Failed to upgrade websocket connection", zap.Error(err))
		return
	}

	client := &wsClient{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, sendQueueSize),
	}
	m.register(client)

	go m.writePump(client)
	go m.readPump(client)
}

func (m *ConnectionManager) writePump(client *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		m.unregister(client)
	}()

	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; the socket is push-only. Reading is
// still required to process control frames and notice disconnects.
func (m *ConnectionManager) readPump(client *wsClient) {
	defer m.unregister(client)

	client.conn.SetReadLimit(512)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}
