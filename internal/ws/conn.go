package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	errClosed       = errors.New("connection closed")
	errSlowConsumer = errors.New("send queue full")
)

// conn adapts a gorilla connection to relay.Conn. Frames are queued on send
// and written by a single writer goroutine; a full queue closes the connection.
type conn struct {
	id        string
	ws        *websocket.Conn
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	log       zerolog.Logger
}

func newConn(id string, ws *websocket.Conn, buffer int, log zerolog.Logger) *conn {
	return &conn{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, buffer),
		closed: make(chan struct{}),
		log:    log.With().Str("conn_id", id).Logger(),
	}
}

func (c *conn) ID() string { return c.id }

// Send queues frame without blocking.
func (c *conn) Send(frame []byte) error {
	select {
	case <-c.closed:
		return errClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.closed:
		return errClosed
	default:
		c.log.Warn().Int("queued", len(c.send)).Msg("slow consumer disconnected")
		_ = c.Close()
		return errSlowConsumer
	}
}

// Close sends a going-away close frame and closes the socket. It is safe to
// call more than once and from any goroutine.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(time.Second),
		)
		err = c.ws.Close()
	})
	return err
}
