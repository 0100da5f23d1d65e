package signal

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/audiocast/internal/core"
	"github.com/dkeye/audiocast/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

type ConnConfig struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

// WsSignalConn is the SignalChannel of one client. Recv is called from a
// single goroutine; writes go through the send queue and writePump.
type WsSignalConn struct {
	conn *websocket.Conn
	cfg  ConnConfig
	send chan []byte
	quit chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, cfg ConnConfig) *WsSignalConn {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	c := &WsSignalConn{
		conn: ws,
		cfg:  cfg,
		send: make(chan []byte, cfg.SendBuffer),
		quit: make(chan struct{}),
	}
	if cfg.ReadLimit > 0 {
		ws.SetReadLimit(cfg.ReadLimit)
	}
	if cfg.PingPeriod > 0 {
		// a pong (or any frame) must arrive within two ping periods
		_ = ws.SetReadDeadline(time.Now().Add(2 * cfg.PingPeriod))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(2 * cfg.PingPeriod))
		})
	}
	go c.writePump()
	return c
}

func (c *WsSignalConn) Recv() (domain.SignalMessage, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if errors.Is(err, websocket.ErrReadLimit) {
			return domain.SignalMessage{}, fmt.Errorf("%w: message over %d bytes", core.ErrProtocolViolation, c.cfg.ReadLimit)
		}
		if err != nil {
			return domain.SignalMessage{}, fmt.Errorf("%w: %w", core.ErrTransportDisconnect, err)
		}
		if c.cfg.PingPeriod > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(2 * c.cfg.PingPeriod))
		}
		if mt != websocket.TextMessage {
			log.Debug().Str("module", "signal").Int("message_type", mt).Msg("skipped non-text frame")
			continue
		}
		return decode(data)
	}
}

func (c *WsSignalConn) Send(m domain.SignalMessage) error {
	data, err := encode(m)
	if err != nil {
		return err
	}
	return c.TrySend(data)
}

// TrySend queues data without blocking.
func (c *WsSignalConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrTransportDisconnect
	}
	select {
	case c.send <- data:
	default:
		return core.ErrBackpressure
	}
	return nil
}

// Close flushes queued messages best-effort and closes the socket.
func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	<-c.quit
	_ = c.conn.Close()
}

// writePump owns every write to the socket. It returns after the send queue
// is closed and drained, or on the first write error.
func (c *WsSignalConn) writePump() {
	defer close(c.quit)

	var ping <-chan time.Time
	if c.cfg.PingPeriod > 0 {
		t := time.NewTicker(c.cfg.PingPeriod)
		defer t.Stop()
		ping = t.C
	}
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			if err := c.write(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.abort()
				return
			}
		case <-ping:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping error")
				c.abort()
				return
			}
		}
	}
}

func (c *WsSignalConn) write(mt int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(mt, data)
}

// abort closes the socket so a pending Recv fails; Close still runs later.
func (c *WsSignalConn) abort() {
	_ = c.conn.Close()
}
