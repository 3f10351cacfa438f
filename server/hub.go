package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"Boombot/logger"
	"Boombot/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512
	sendBuffer     = 8
)

// Hub fans now-playing updates out to websocket listeners. It is a feeder
// observer: OnNowPlaying never blocks.
type Hub struct {
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte

	// owned by Run
	clients map[*wsClient]struct{}
	last    []byte

	upgrader websocket.Upgrader
	done     chan struct{}
	log      *zap.Logger
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub. Run must be started before listeners connect.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = logger.L()
	}
	return &Hub{
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 16),
		clients:    make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		done: make(chan struct{}),
		log:  log,
	}
}

// OnNowPlaying queues np for every listener, dropping it if the hub is behind.
func (h *Hub) OnNowPlaying(np model.NowPlaying) {
	data, err := json.Marshal(np)
	if err != nil {
		h.log.Warn("[Hub] failed to encode now playing", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Debug("[Hub] broadcast buffer full, dropping update")
	}
}

// Run owns the listener set until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			if h.last != nil {
				c.send <- h.last
			}
			h.log.Debug("[Hub] listener joined", zap.Int("listeners", len(h.clients)))

		case c := <-h.unregister:
			h.remove(c)

		case msg := <-h.broadcast:
			h.last = msg
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.log.Info("[Hub] dropping slow listener", zap.String("remote", c.conn.RemoteAddr().String()))
					h.remove(c)
				}
			}

		case <-ctx.Done():
			for c := range h.clients {
				h.remove(c)
			}
			return
		}
	}
}

func (h *Hub) remove(c *wsClient) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeWS upgrades the request and streams updates until the listener leaves.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("[Hub] websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	c.readPump(h)
}

// readPump discards inbound frames; it exists to process control frames and notice disconnects.
func (c *wsClient) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("[Hub] websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
