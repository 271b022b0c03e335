// Package ws is the WebSocket transport of the relay. Each connection runs a
// read loop feeding relay.Dispatch and a write loop draining a bounded send
// queue and pinging the peer.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-chat-relay/internal/config"
	"github.com/tbourn/go-chat-relay/internal/relay"
)

// Server upgrades HTTP requests and pumps frames between sockets and the relay.
type Server struct {
	upgrader websocket.Upgrader
	relay    *relay.Relay
	cfg      config.WSConfig
	log      zerolog.Logger
}

// NewServer returns a Server. An empty AllowedOrigins list accepts any origin.
func NewServer(r *relay.Relay, cfg config.WSConfig, log zerolog.Logger) *Server {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	return &Server{
		relay: r,
		cfg:   cfg,
		log:   log.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(req *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				origin := req.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

// HandleWS serves GET /ws. It returns when the connection is gone.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("ws upgrade failed")
		return
	}

	c := newConn(uuid.NewString(), sock, s.cfg.SendBuffer, s.log)
	s.relay.Connect(c)

	go s.writeLoop(c)
	s.readLoop(r.Context(), c)

	s.relay.Disconnect(c.id)
	_ = c.Close()
}

func (s *Server) readLoop(ctx context.Context, c *conn) {
	limiter := rate.NewLimiter(rate.Limit(s.cfg.EventRPS), s.cfg.EventBurst)
	deadline := 2 * s.cfg.PingInterval

	c.ws.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
	c.ws.SetPongHandler(func(string) error {
		s.relay.Registry.Touch(c.id)
		return c.ws.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug().Err(err).Msg("ws read ended")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		if !limiter.Allow() {
			s.relay.Throttled(c.id)
			continue
		}
		s.relay.Dispatch(ctx, c.id, data)
	}
}

func (s *Server) writeLoop(c *conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug().Err(err).Msg("ws write failed")
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}
