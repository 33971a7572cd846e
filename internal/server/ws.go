package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"nyl/internal/domain"
	"nyl/internal/hub"
)

const (
	wsReadLimit    = 4096
	wsCloseTimeout = time.Second
)

// wsWriter adapts a gorilla connection to hub.FrameWriter.
type wsWriter struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (w *wsWriter) WriteFrame(data []byte) error {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsWriter) Close() error {
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsCloseTimeout))
	return w.conn.Close()
}

// updates upgrades to a WebSocket, sends the connected event carrying the
// full snapshot and then relays hub broadcasts until the peer goes away.
// Inbound frames are read only to notice the close.
func (s *Server) updates(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "request_id", c.GetString(ctxRequestID), "err", err)
		return
	}

	id := uuid.NewString()
	logger := s.logger.With("conn_id", id)
	out, err := hub.NewOutbox(&wsWriter{conn: conn, timeout: s.opts.WriteTimeout}, s.opts.OutboxSize, func(err error) {
		logger.Info("websocket write failed", "err", err)
		s.conns.Unregister(id)
	})
	if err != nil {
		logger.Error("outbox setup failed", "err", err)
		_ = conn.Close()
		return
	}

	// Queue the connected event before registering so it is always the
	// first frame the peer sees.
	ctx := context.WithoutCancel(c.Request.Context())
	if err := s.sendConnected(ctx, out); err != nil {
		logger.Error("connected event failed", "err", err)
		_ = out.Close()
		return
	}
	if err := s.conns.Register(id, out); err != nil {
		logger.Error("websocket register failed", "err", err)
		_ = out.Close()
		return
	}
	defer s.conns.Unregister(id)

	conn.SetReadLimit(wsReadLimit)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Info("websocket closed unexpectedly", "err", err)
			}
			return
		}
	}
}

func (s *Server) sendConnected(ctx context.Context, out *hub.Outbox) error {
	data, err := json.Marshal(s.status.Event(ctx, domain.EventConnected))
	if err != nil {
		return err
	}
	return out.Send(data)
}
