// Package notify fans shopping-list change signals out to live WebSocket and SSE clients.
//
// Events are level-triggered: they carry no payload beyond a timestamp and clients re-fetch the
// full list when one arrives, so lost, duplicated or reordered events are harmless.
package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mealboard/internal/metrics"
)

// Event types sent to live clients.
const (
	EventConnected           = "connected"
	EventShoppingListChanged = "shopping-list-changed"
)

// Event is the JSON message delivered to clients.
type Event struct {
	Type      string    `json:"type"`
	ClientID  string    `json:"clientId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Conn is one live transport connection.
type Conn interface {
	// Send writes ev to the client.
	Send(ev Event) error
	// KeepAlive writes a transport-level keep-alive signal.
	KeepAlive(now time.Time) error
	// Close releases the transport.
	Close() error
}

var errClientClosed = errors.New("client closed")

// Options configures a Hub.
type Options struct {
	// KeepAliveInterval is the period of keep-alive signals sent by Run. Defaults to 30s.
	KeepAliveInterval time.Duration
	// WriteTimeout bounds every write to a client. Defaults to 10s.
	WriteTimeout time.Duration
	// AllowedOrigins lists the browser origins accepted for WebSocket upgrades in addition to
	// same-host requests.
	AllowedOrigins []string
	Collectors     *metrics.Collectors
}

// Hub is the registry of live clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	opts    Options
	logger  *zap.Logger
	metrics *metrics.Collectors
	now     func() time.Time
}

// NewHub creates an empty Hub.
func NewHub(opts Options, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Hub{
		clients: make(map[string]*Client),
		opts:    opts,
		logger:  logger.Named("notify"),
		metrics: opts.Collectors,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Client is the registry handle of one connection. Close must be called when the connection
// ends; it is safe to call more than once.
type Client struct {
	id   string
	conn Conn
	hub  *Hub

	mu     sync.Mutex // serializes writes with Close
	closed bool

	once sync.Once
	done chan struct{}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// Done is closed once the client has been removed from the registry.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close removes the client from the registry and closes its transport. It waits for an
// in-flight write to finish, so no write reaches the transport after Close returns.
func (c *Client) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.done)
		c.hub.remove(c.id)
		if err := c.conn.Close(); err != nil {
			c.hub.logger.Debug("closing client transport", zap.String("client_id", c.id), zap.Error(err))
		}
	})
}

func (c *Client) write(fn func(Conn) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	return fn(c.conn)
}

// Register adds conn to the registry under a fresh id and sends it the connected event. A
// connection that cannot receive the handshake is closed immediately.
func (h *Hub) Register(conn Conn) *Client {
	c := &Client{
		id:   uuid.NewString(),
		conn: conn,
		hub:  h,
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	total := len(h.clients)
	h.mu.Unlock()

	h.metrics.ClientConnected()
	h.logger.Info("client connected", zap.String("client_id", c.id), zap.Int("total", total))

	ev := Event{Type: EventConnected, ClientID: c.id, Timestamp: h.now()}
	if err := c.write(func(conn Conn) error { return conn.Send(ev) }); err != nil {
		h.logger.Debug("handshake failed", zap.String("client_id", c.id), zap.Error(err))
		c.Close()
	}
	return c
}

// Unregister closes the client with the given id, if registered.
func (h *Hub) Unregister(id string) {
	h.mu.RLock()
	c := h.clients[id]
	h.mu.RUnlock()
	if c != nil {
		c.Close()
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	_, ok := h.clients[id]
	delete(h.clients, id)
	total := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.metrics.ClientDisconnected()
		h.logger.Info("client disconnected", zap.String("client_id", id), zap.Int("total", total))
	}
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

// each runs fn against every registered client concurrently. A client whose write fails is
// closed and removed; the others are unaffected. It returns the number of successful writes.
func (h *Hub) each(ctx context.Context, what string, fn func(Conn) error) int {
	var (
		wg        sync.WaitGroup
		delivered atomic.Int64
	)
	for _, c := range h.snapshot() {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			err := c.write(fn)
			switch {
			case err == nil:
				delivered.Add(1)
			case errors.Is(err, errClientClosed):
			default:
				h.logger.Debug("dropping client after failed write",
					zap.String("client_id", c.id), zap.String("write", what), zap.Error(err))
				h.metrics.ClientDropped()
				c.Close()
			}
		}(c)
	}
	wg.Wait()
	return int(delivered.Load())
}

// Broadcast sends ev to every registered client and returns the number it reached.
func (h *Hub) Broadcast(ctx context.Context, ev Event) int {
	n := h.each(ctx, ev.Type, func(conn Conn) error { return conn.Send(ev) })
	h.metrics.Broadcast(ev.Type)
	if n > 0 {
		h.logger.Debug("broadcast", zap.String("type", ev.Type), zap.Int("delivered", n))
	}
	return n
}

// NotifyShoppingListChanged tells every client to re-fetch the shopping list.
func (h *Hub) NotifyShoppingListChanged(ctx context.Context) {
	h.Broadcast(ctx, Event{Type: EventShoppingListChanged, Timestamp: h.now()})
}

// KeepAlive sends a keep-alive signal to every client.
func (h *Hub) KeepAlive(ctx context.Context) int {
	now := h.now()
	return h.each(ctx, "keepalive", func(conn Conn) error { return conn.KeepAlive(now) })
}

// Run sends keep-alives until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.opts.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.KeepAlive(ctx)
		case <-ctx.Done():
			h.CloseAll()
			return nil
		}
	}
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	for _, c := range h.snapshot() {
		c.Close()
	}
}
