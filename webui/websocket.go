package webui

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dreamlines/logging"
)

// BroadcasterConfig holds websocket timing settings.
type BroadcasterConfig struct {
	// PingInterval is how often to ping each client. Must be below PongWait.
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	// MaxMessageSize limits frames read from the client.
	MaxMessageSize int64
	// ClientSendBufferSize is the per-client queue; a client that falls
	// this far behind is disconnected.
	ClientSendBufferSize int
}

// DefaultBroadcasterConfig returns the default configuration.
func DefaultBroadcasterConfig() BroadcasterConfig {
	return BroadcasterConfig{
		PingInterval:         30 * time.Second,
		PongWait:             60 * time.Second,
		WriteWait:            10 * time.Second,
		MaxMessageSize:       512,
		ClientSendBufferSize: 64,
	}
}

type wsClient struct {
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	once       sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

// Broadcaster pushes messages to every websocket of one workspace.
//
// It composes:
//   - message envelopes (ws_message.go atoms)
//   - a client set guarded by a mutex
//   - one write pump per client, which also sends pings
//
// Thread-safe for concurrent connects and broadcasts.
type Broadcaster struct {
	config   BroadcasterConfig
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]*wsClient
	closed  bool
}

// NewBroadcaster creates a Broadcaster. A nil logger discards output.
func NewBroadcaster(config BroadcasterConfig, logger *logging.Logger) *Broadcaster {
	if logger == nil {
		logger = logging.NewNop()
	}
	def := DefaultBroadcasterConfig()
	if config.PingInterval <= 0 {
		config.PingInterval = def.PingInterval
	}
	if config.PongWait <= 0 {
		config.PongWait = def.PongWait
	}
	if config.WriteWait <= 0 {
		config.WriteWait = def.WriteWait
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = def.MaxMessageSize
	}
	if config.ClientSendBufferSize <= 0 {
		config.ClientSendBufferSize = def.ClientSendBufferSize
	}

	return &Broadcaster{
		config:  config,
		logger:  logger.Named("ws"),
		clients: make(map[*websocket.Conn]*wsClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// HandleConnection upgrades the request, registers the client and queues
// initial as its first message.
func (b *Broadcaster) HandleConnection(w http.ResponseWriter, r *http.Request, initial WSMessage) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("Failed to upgrade websocket", zap.String("remote_addr", clientIP(r)), zap.Error(err))
		return
	}

	client := &wsClient{
		conn:       conn,
		send:       make(chan []byte, b.config.ClientSendBufferSize),
		remoteAddr: clientIP(r),
	}
	if data, err := json.Marshal(initial); err == nil {
		client.send <- data
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close()
		return
	}
	b.clients[conn] = client
	count := len(b.clients)
	b.mu.Unlock()

	b.logger.Debug("Websocket client connected",
		zap.String("remote_addr", client.remoteAddr),
		zap.Int("clients", count))

	go b.writePump(client)
	go b.readPump(client)
}

// Broadcast queues msg for every client without blocking.
func (b *Broadcaster) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("Failed to marshal websocket message", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	var slow []*websocket.Conn
	b.mu.RLock()
	for conn, client := range b.clients {
		select {
		case client.send <- data:
		default:
			slow = append(slow, conn)
		}
	}
	b.mu.RUnlock()

	for _, conn := range slow {
		b.logger.Warn("Websocket client too slow, disconnecting")
		b.remove(conn)
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects every client and rejects new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	clients := b.clients
	b.clients = make(map[*websocket.Conn]*wsClient)
	b.mu.Unlock()

	for _, client := range clients {
		client.close()
	}
}

func (b *Broadcaster) remove(conn *websocket.Conn) {
	b.mu.Lock()
	client, ok := b.clients[conn]
	delete(b.clients, conn)
	b.mu.Unlock()

	if ok {
		client.close()
		b.logger.Debug("Websocket client disconnected", zap.String("remote_addr", client.remoteAddr))
	}
}

// readPump only keeps the read deadline fresh; clients never send data.
func (b *Broadcaster) readPump(client *wsClient) {
	defer b.remove(client.conn)

	client.conn.SetReadLimit(b.config.MaxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(b.config.PongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(b.config.PongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Debug("Websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
	}
}

func (b *Broadcaster) writePump(client *wsClient) {
	ticker := time.NewTicker(b.config.PingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case data, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(b.config.WriteWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				b.remove(client.conn)
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(b.config.WriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				b.remove(client.conn)
				return
			}
		}
	}
}
