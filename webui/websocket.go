package webui

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"photomaker/logging"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Broadcaster fans generation progress out to every connected browser.
// Each client has its own send buffer; a client that falls behind is
// disconnected rather than slowing the others down.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*client

	broadcast chan WSMessage
	done      chan struct{}
	closeOnce sync.Once

	upgrader  websocket.Upgrader
	config    BroadcasterConfig
	onConnect func() WSMessage
	logger    *logging.Logger
}

type client struct {
	remoteAddr  string
	connectedAt time.Time
	send        chan []byte
	closeOnce   sync.Once
}

// BroadcasterConfig holds websocket timings and buffer sizes.
type BroadcasterConfig struct {
	PingInterval         time.Duration
	PongWait             time.Duration
	WriteWait            time.Duration
	MaxMessageSize       int64
	BroadcastBufferSize  int
	ClientSendBufferSize int
}

func DefaultBroadcasterConfig() BroadcasterConfig {
	return BroadcasterConfig{
		PingInterval:         30 * time.Second,
		PongWait:             60 * time.Second,
		WriteWait:            10 * time.Second,
		MaxMessageSize:       512,
		BroadcastBufferSize:  256,
		ClientSendBufferSize: 64,
	}
}

// NewBroadcaster returns a Broadcaster. onConnect, when non-nil, builds
// the first message each client receives.
func NewBroadcaster(config BroadcasterConfig, onConnect func() WSMessage, logger *logging.Logger) *Broadcaster {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Broadcaster{
		clients:   make(map[*websocket.Conn]*client),
		broadcast: make(chan WSMessage, config.BroadcastBufferSize),
		done:      make(chan struct{}),
		config:    config,
		onConnect: onConnect,
		logger:    logger.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The page is served by this process; any origin that can reach
			// it already passed authentication.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run delivers broadcasts and pings until ctx is cancelled, then closes
// every client.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.config.PingInterval)
	defer ticker.Stop()
	defer b.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case msg := <-b.broadcast:
			b.deliver(msg)
		case <-ticker.C:
			b.pingAll()
		}
	}
}

// HandleConnection upgrades the request and registers the client.
func (b *Broadcaster) HandleConnection(w http.ResponseWriter, r *http.Request) {
	select {
	case <-b.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("Websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	conn.SetReadLimit(b.config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(b.config.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(b.config.PongWait))
	})

	c := &client{
		remoteAddr:  conn.RemoteAddr().String(),
		connectedAt: time.Now(),
		send:        make(chan []byte, b.config.ClientSendBufferSize),
	}
	b.mu.Lock()
	b.clients[conn] = c
	count := len(b.clients)
	b.mu.Unlock()
	b.logger.Debug("Client connected", zap.String("remote", c.remoteAddr), zap.Int("clients", count))

	go b.writePump(conn, c)
	if b.onConnect != nil {
		b.queue(c, b.onConnect())
	}
	go b.readPump(conn)
}

// Broadcast queues msg for all clients without blocking. It is dropped
// when the queue is full.
func (b *Broadcaster) Broadcast(msg WSMessage) {
	select {
	case b.broadcast <- msg:
	default:
		b.logger.Warn("Broadcast queue full, dropping message", zap.String("type", msg.Type))
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects every client and stops Run. Safe to call repeatedly.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() { close(b.done) })

	b.mu.Lock()
	defer b.mu.Unlock()
	for conn, c := range b.clients {
		c.closeOnce.Do(func() { close(c.send) })
		delete(b.clients, conn)
	}
}

func (b *Broadcaster) deliver(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("Failed to encode websocket message", zap.Error(err))
		return
	}

	b.mu.RLock()
	var slow []*websocket.Conn
	for conn, c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, conn)
		}
	}
	b.mu.RUnlock()

	for _, conn := range slow {
		b.logger.Warn("Client too slow, disconnecting", zap.String("remote", conn.RemoteAddr().String()))
		b.remove(conn)
	}
}

func (b *Broadcaster) queue(c *client, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	defer func() {
		// send may have been closed by a concurrent remove
		_ = recover()
	}()
	select {
	case c.send <- data:
	default:
	}
}

func (b *Broadcaster) pingAll() {
	b.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(b.clients))
	for conn := range b.clients {
		conns = append(conns, conn)
	}
	b.mu.RUnlock()

	deadline := time.Now().Add(b.config.WriteWait)
	for _, conn := range conns {
		// WriteControl may run concurrently with the write pump.
		if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			b.remove(conn)
		}
	}
}

func (b *Broadcaster) remove(conn *websocket.Conn) {
	b.mu.Lock()
	c, ok := b.clients[conn]
	if ok {
		delete(b.clients, conn)
	}
	count := len(b.clients)
	b.mu.Unlock()

	if ok {
		c.closeOnce.Do(func() { close(c.send) })
		b.logger.Debug("Client disconnected", zap.String("remote", c.remoteAddr), zap.Int("clients", count))
	}
}

// readPump discards client messages; it exists to process pongs and
// notice closed connections.
func (b *Broadcaster) readPump(conn *websocket.Conn) {
	defer b.remove(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Debug("Websocket closed", zap.Error(err))
			}
			return
		}
	}
}

func (b *Broadcaster) writePump(conn *websocket.Conn, c *client) {
	defer conn.Close()
	for data := range c.send {
		conn.SetWriteDeadline(time.Now().Add(b.config.WriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			b.remove(conn)
			return
		}
	}
	conn.SetWriteDeadline(time.Now().Add(b.config.WriteWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}
