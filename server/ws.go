package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// streamEvents bridges the Activation Bus to a WebSocket client — the
// browser-facing counterpart to /logs/stream's SSE, for admin UIs that want
// push notification of activation progress without polling pool-status.
func (s *Server) streamEvents(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	pattern := c.Query("topic")
	if pattern == "" {
		pattern = "activation:*"
	}
	sub := s.bus.Subscribe(pattern)
	defer sub.Cancel()

	ctx := c.Request.Context()
	for {
		msg, ok := sub.Next(ctx)
		if !ok {
			conn.Close(websocket.StatusNormalClosure, "subscription closed")
			return
		}

		data, err := json.Marshal(wsEnvelope{Topic: msg.Topic, Payload: msg.Payload})
		if err != nil {
			continue
		}

		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = conn.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			conn.Close(websocket.StatusInternalError, "write failed")
			return
		}
	}
}

type wsEnvelope struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}
