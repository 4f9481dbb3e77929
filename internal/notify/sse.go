package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// sseConn writes named events to a text/event-stream response.
type sseConn struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration
}

func newSSEConn(w http.ResponseWriter, writeTimeout time.Duration) *sseConn {
	return &sseConn{w: w, rc: http.NewResponseController(w), writeTimeout: writeTimeout}
}

func (c *sseConn) Send(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return c.write(fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Type, data))
}

// KeepAlive writes a comment line, which EventSource ignores.
func (c *sseConn) KeepAlive(now time.Time) error {
	return c.write(fmt.Sprintf(": keepalive %d\n\n", now.UnixMilli()))
}

func (c *sseConn) Close() error { return nil }

func (c *sseConn) write(s string) error {
	if err := c.rc.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	if _, err := fmt.Fprint(c.w, s); err != nil {
		return err
	}
	return c.rc.Flush()
}

// ServeSSE streams events to the client until it disconnects or the hub closes it.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	client := h.Register(newSSEConn(w, h.opts.WriteTimeout))
	defer client.Close()

	select {
	case <-r.Context().Done():
		h.logger.Debug("sse client went away", zap.String("client_id", client.ID()))
	case <-client.Done():
	}
}
