package signal

import (
	"errors"
	"sync"

	"github.com/dkeye/meetsfu/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// WsSignalConn is the write side of one websocket. All writes go through
// the send queue drained by writePump.
type WsSignalConn struct {
	conn  *websocket.Conn
	codec Codec
	send  chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, codec Codec, buffer int) *WsSignalConn {
	return &WsSignalConn{
		conn:  ws,
		codec: codec,
		send:  make(chan core.Frame, buffer),
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Notify queues a server event without blocking.
func (c *WsSignalConn) Notify(event string, data any) error {
	b, err := c.codec.Encode(Outbound{Type: event, Data: data})
	if err != nil {
		return err
	}
	return c.TrySend(b)
}

func (c *WsSignalConn) reply(id uint64, data any) {
	b, err := c.codec.Encode(Outbound{Type: "ack", ID: &id, Data: data})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Uint64("id", id).Msg("reply encode")
		b, _ = c.codec.Encode(Outbound{Type: "ack", ID: &id, Data: errorReply{Error: "internal error"}})
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Uint64("id", id).Msg("reply dropped")
	}
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}
