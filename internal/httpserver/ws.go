package httpserver

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Token validation is the gate; browser origin carries no signal
	// for a non-cookie API.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleStream upgrades the request and hands the connection to the
// broadcast manager, blocking until the subscriber disconnects.
// Authorization failures are surfaced by the manager as a
// policy-violation close before any state is sent.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if bearer := r.Header.Get("Authorization"); strings.HasPrefix(bearer, "Bearer ") {
			token = strings.TrimPrefix(bearer, "Bearer ")
		}
	}

	var namespaces []string

	if raw := r.URL.Query().Get("namespaces"); raw != "" {
		for _, ns := range strings.Split(raw, ",") {
			if ns = strings.TrimSpace(ns); ns != "" {
				namespaces = append(namespaces, ns)
			}
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		s.logger.WarnContext(r.Context(), "websocket upgrade failed", "reason", err)

		return
	}

	if err := s.broadcaster.Subscribe(r.Context(), newWSConn(conn), token, namespaces); err != nil {
		s.logger.InfoContext(r.Context(), "subscriber rejected", "reason", err)
	}
}

// wsConn adapts a gorilla websocket connection to the broadcast.Conn
// interface. Writes are serialized; gorilla allows only one concurrent
// writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn.WriteJSON(v)
}

func (c *wsConn) ReadJSON(v any) error {
	return c.conn.ReadJSON(v)
}

func (c *wsConn) Close(code int, reason string) error {
	c.mu.Lock()
	deadline := time.Now().Add(closeWriteWait)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	c.mu.Unlock()

	return c.conn.Close()
}
