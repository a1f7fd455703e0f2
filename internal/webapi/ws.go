package webapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/azrailbeat/crystalbay-sub001/internal/bus"
	"github.com/azrailbeat/crystalbay-sub001/internal/metrics"
)

// streamEvent is the JSON frame pushed to event stream clients.
type streamEvent struct {
	Type      string         `json:"type"`
	Source    string         `json:"source,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // operator UIs connect from anywhere; auth is the token
	},
}

// eventStream fans bus events out to connected operator clients. Clients are
// read-only consumers; anything they send is ignored.
type eventStream struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*streamClient
}

// streamClient tracks one websocket connection with a write lock.
type streamClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newEventStream(logger *slog.Logger) *eventStream {
	return &eventStream{
		logger:  logger,
		clients: make(map[string]*streamClient),
	}
}

// broadcast pushes one bus event to every connected client.
func (es *eventStream) broadcast(e bus.Event) {
	data, err := json.Marshal(streamEvent{
		Type:      e.Type,
		Source:    e.Source,
		Payload:   e.Payload,
		Timestamp: e.Timestamp,
	})
	if err != nil {
		return
	}

	es.mu.RLock()
	defer es.mu.RUnlock()
	for id, client := range es.clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			es.logger.Debug("event stream write failed", "client_id", id, "err", err)
		}
	}
}

func (es *eventStream) handleUpgrade(rw http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		es.logger.Error("event stream upgrade failed", "err", err)
		return
	}

	client := &streamClient{conn: conn}
	clientID := fmt.Sprintf("%s-%p", r.RemoteAddr, conn)

	es.mu.Lock()
	es.clients[clientID] = client
	es.mu.Unlock()
	metrics.ActiveWSClients.Inc()
	es.logger.Info("event stream client connected", "client_id", clientID)

	client.send(streamEvent{Type: "stream.connected", Source: "webapi", Timestamp: time.Now()})

	defer func() {
		es.mu.Lock()
		delete(es.clients, clientID)
		es.mu.Unlock()
		metrics.ActiveWSClients.Dec()
		conn.Close()
		es.logger.Info("event stream client disconnected", "client_id", clientID)
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				es.logger.Debug("event stream read error", "client_id", clientID, "err", err)
			}
			return
		}
	}
}

func (c *streamClient) send(e streamEvent) {
	data, _ := json.Marshal(e)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteMessage(websocket.TextMessage, data)
}

func (es *eventStream) closeAll() {
	es.mu.Lock()
	defer es.mu.Unlock()
	for id, client := range es.clients {
		client.conn.Close()
		delete(es.clients, id)
	}
}
