package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sourceline/internal/domain"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Notifier receives committed events.
type Notifier interface {
	Publish(evt domain.Event)
}

type client struct {
	conn      *ws.Conn
	projectID string
	mu        sync.Mutex
}

// Hub fans committed project events out to websocket subscribers. A
// subscriber registered with a project id only sees that project.
type Hub struct {
	Logger *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{Logger: logger, clients: make(map[*client]struct{})}
}

var upgrader = ws.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		_ = c.conn.Close()
	}
}

// Publish writes evt to every matching subscriber. Subscribers that fail a
// write are dropped.
func (h *Hub) Publish(evt domain.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.Logger.Warn("marshal live event", zap.Error(err))
		return
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.projectID == "" || c.projectID == evt.ProjectID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.mu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := c.conn.WriteMessage(ws.TextMessage, data)
		c.mu.Unlock()
		if err != nil {
			h.Logger.Debug("drop live subscriber", zap.Error(err))
			h.unregister(c)
		}
	}
}

// ServeHTTP upgrades the request and streams events until the peer leaves.
// The optional project_id query parameter scopes the stream.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, projectID: r.URL.Query().Get("project_id")}
	h.register(c)
	h.Logger.Info("live subscriber connected", zap.String("project_id", c.projectID), zap.Int("clients", h.Clients()))

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.mu.Lock()
				err := conn.WriteControl(ws.PingMessage, nil, time.Now().Add(writeWait))
				c.mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	close(done)
	h.unregister(c)
	h.Logger.Info("live subscriber disconnected", zap.String("project_id", c.projectID))
}
