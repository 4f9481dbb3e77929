package notify

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxClientMessageSize = 512

// wsConn writes JSON text frames to a WebSocket. gorilla/websocket allows one concurrent writer,
// so every data frame goes through mu.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func (c *wsConn) Send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(ev)
}

// KeepAlive sends a ping control frame; browsers answer it without involving the page.
func (c *wsConn) KeepAlive(time.Time) error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

func (c *wsConn) writeText(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(s))
}

func (h *Hub) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
}

// checkOrigin accepts requests without an Origin header, same-host requests and the configured
// origins.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// ServeWebSocket upgrades the request and keeps the connection registered until the client
// goes away. A text "ping" from the client is answered with "pong".
func (h *Hub) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := &wsConn{ws: ws, writeTimeout: h.opts.WriteTimeout}
	client := h.Register(conn)
	defer client.Close()

	// Two missed keep-alive rounds mean the peer is gone.
	readTimeout := 2*h.opts.KeepAliveInterval + h.opts.WriteTimeout
	ws.SetReadLimit(maxClientMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		msgType, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Debug("websocket read failed", zap.String("client_id", client.ID()), zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))

		if msgType == websocket.TextMessage && string(msg) == "ping" {
			if err := conn.writeText("pong"); err != nil {
				return
			}
		}
	}
}
