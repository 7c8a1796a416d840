package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const defaultMaxFrame = 8 << 20

// WebSocketSource reads binary media frames from a browser MediaRecorder
// connection. A text frame "stop" (or {"event":"stop"}) ends capture, as does
// a normal close from the peer.
type WebSocketSource struct {
	Conn *websocket.Conn
	// MaxFrame limits a single frame. Defaults to 8 MiB.
	MaxFrame int64
}

type controlFrame struct {
	Event string `json:"event"`
}

// Run consumes frames until the peer stops or ctx ends.
func (s *WebSocketSource) Run(ctx context.Context, emit func([]byte)) error {
	if s == nil || s.Conn == nil {
		return errors.New("capture: websocket source has no connection")
	}
	limit := s.MaxFrame
	if limit <= 0 {
		limit = defaultMaxFrame
	}
	s.Conn.SetReadLimit(limit)
	stop := context.AfterFunc(ctx, func() {
		_ = s.Conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		kind, payload, err := s.Conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("capture: websocket read: %w", err)
		}
		switch kind {
		case websocket.BinaryMessage:
			emit(payload)
		case websocket.TextMessage:
			if isStop(payload) {
				return nil
			}
		}
	}
}

func isStop(payload []byte) bool {
	text := strings.TrimSpace(string(payload))
	if strings.EqualFold(text, "stop") {
		return true
	}
	var frame controlFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return false
	}
	return strings.EqualFold(frame.Event, "stop")
}
