package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"avsync/internal/logging"
)

const wsWriteTimeout = 10 * time.Second

// wsClient adapts a websocket connection to notifications.Listener.
type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) Send(message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(message))
}

func (s *Server) upgrader() *websocket.Upgrader {
	origins := s.cfg.Server.AllowedOrigins
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(origins, origin)
		},
	}
}

// handleWebsocket registers the connection for progress broadcasts and echoes
// whatever the client sends until it disconnects.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade rejected", logging.Error(err))
		return
	}
	client := &wsClient{conn: conn}
	s.hub.Register(client)
	defer func() {
		s.hub.Unregister(client)
		_ = conn.Close()
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket closed", logging.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if err := client.Send("Echo: " + string(data)); err != nil {
			return
		}
	}
}
