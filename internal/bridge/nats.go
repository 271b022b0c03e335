// Package bridge is the NATS inlet of the cross-process bridge. The web tier
// publishes {"event": ..., "data": {...}} on a subject; requests carrying a
// reply subject get the emit result back.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/tbourn/go-chat-relay/internal/relay"
)

// Emitter executes bridge requests. *relay.Bridge satisfies it.
type Emitter interface {
	Emit(ctx context.Context, req relay.EmitRequest) (relay.EmitResult, error)
}

// Reply is the response published to a request's reply subject.
type Reply struct {
	OK     bool             `json:"ok"`
	Result relay.EmitResult `json:"result"`
	Error  string           `json:"error,omitempty"`
	Code   string           `json:"code,omitempty"`
}

// Subscriber consumes bridge requests from NATS.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	emitter Emitter
	timeout time.Duration
	log     zerolog.Logger
}

// Subscribe connects to url and subscribes to subject.
func Subscribe(url, subject string, emitter Emitter, log zerolog.Logger) (*Subscriber, error) {
	nc, err := nats.Connect(url,
		nats.Name("go-chat-relay"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	s := &Subscriber{
		nc:      nc,
		emitter: emitter,
		timeout: 5 * time.Second,
		log:     log.With().Str("component", "nats-bridge").Str("subject", subject).Logger(),
	}
	sub, err := nc.Subscribe(subject, s.onMsg)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.sub = sub
	s.log.Info().Str("url", url).Msg("nats bridge subscribed")
	return s, nil
}

func (s *Subscriber) onMsg(m *nats.Msg) {
	ctx, cancel := context.WithTimeout(traceContext(context.Background(), m.Header), s.timeout)
	defer cancel()

	reply := s.Handle(ctx, m.Data)
	if m.Reply == "" {
		return
	}
	b, err := json.Marshal(reply)
	if err != nil {
		return
	}
	if err := m.Respond(b); err != nil {
		s.log.Warn().Err(err).Msg("nats reply failed")
	}
}

// traceContext joins the publisher's trace when the message carries W3C
// trace headers. Header names are matched case-insensitively.
func traceContext(ctx context.Context, h nats.Header) context.Context {
	if len(h) == 0 {
		return ctx
	}
	carrier := propagation.MapCarrier{}
	for k, v := range h {
		if len(v) > 0 {
			carrier[strings.ToLower(k)] = v[0]
		}
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// Handle decodes one request and emits it.
func (s *Subscriber) Handle(ctx context.Context, data []byte) Reply {
	var req relay.EmitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.log.Warn().Err(err).Msg("malformed bridge message")
		return Reply{Error: "malformed request", Code: "bad_request"}
	}
	res, err := s.emitter.Emit(ctx, req)
	if err != nil {
		return Reply{Result: res, Error: err.Error(), Code: code(err)}
	}
	return Reply{OK: true, Result: res}
}

// Close drains the subscription and closes the connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.nc.Close()
		}
	}
}

func code(err error) string {
	var fe *relay.FieldError
	switch {
	case errors.As(err, &fe), errors.Is(err, relay.ErrUnknownBridgeEvent), errors.Is(err, relay.ErrInvalidEvent):
		return "bad_request"
	default:
		return "internal_error"
	}
}
