package bridge

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// observer is one attached WebSocket client. The server feeds out; the
// write pump drains it onto the wire. out is closed only by the server,
// with the observer already removed from the set, so a send never races
// the close.
type observer struct {
	conn   *websocket.Conn
	out    chan []byte
	logger *zap.Logger

	writeTimeout time.Duration
}

func newObserver(conn *websocket.Conn, buffer int, writeTimeout time.Duration, logger *zap.Logger) *observer {
	return &observer{
		conn:         conn,
		out:          make(chan []byte, buffer),
		logger:       logger,
		writeTimeout: writeTimeout,
	}
}

// enqueue offers a frame without blocking. false means the buffer is
// full: the observer has fallen behind and must be dropped.
func (o *observer) enqueue(frame []byte) bool {
	select {
	case o.out <- frame:
		return true
	default:
		return false
	}
}

// writePump owns all writes to the connection. It runs until out is
// closed and drained, then finishes with a normal-closure handshake so
// frames queued before shutdown still reach the peer. A write error
// ends the pump early; the read side notices the dead connection and
// detaches.
func (o *observer) writePump() {
	defer o.conn.Close()
	for frame := range o.out {
		o.conn.SetWriteDeadline(time.Now().Add(o.writeTimeout))
		if err := o.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			o.logger.Debug("observer write failed", zap.Error(err))
			return
		}
	}
	o.conn.SetWriteDeadline(time.Now().Add(o.writeTimeout))
	_ = o.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
