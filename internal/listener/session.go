package listener

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/depthwatch/depthwatch/internal/actions"
	"github.com/depthwatch/depthwatch/internal/metrics"
)

// State is the websocket session lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateStreaming
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler is the venue protocol plugged into a Session.
type Handler interface {
	// Prepare runs before each (re)subscribe; venues refresh their symbol
	// catalog here.
	Prepare(ctx context.Context) error
	// Subscribe sends the venue's subscription frames on the fresh
	// connection, one per configured market.
	Subscribe(ctx context.Context, conn *Conn) error
	// Handle parses one inbound frame into actions. Malformed or unknown
	// frames are logged and dropped inside the handler; Handle never
	// panics and never fails the stream.
	Handle(msg []byte) []actions.Action
}

// Conn wraps the websocket connection with serialized writes.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// SendJSON writes one JSON frame.
func (c *Conn) SendJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(v)
}

const (
	defaultReadTimeout  = 60 * time.Second
	defaultPingInterval = 30 * time.Second
	maxReconnectBackoff = 30 * time.Second
)

// Session drives one venue websocket through the
// Disconnected -> Connecting -> Subscribed -> Streaming lifecycle, with
// reconnects on transport errors and a hard stop through Close.
type Session struct {
	venue   string
	url     string
	handler Handler
	emit    func([]actions.Action)

	dialer       *websocket.Dialer
	readTimeout  time.Duration
	pingInterval time.Duration

	state     atomic.Int32
	closeOnce sync.Once
	closed    chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewSession builds a session for the venue at url.
func NewSession(venue, url string, h Handler, emit func([]actions.Action)) *Session {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 30 * time.Second
	return &Session{
		venue:        venue,
		url:          url,
		handler:      h,
		emit:         emit,
		dialer:       &dialer,
		readTimeout:  defaultReadTimeout,
		pingInterval: defaultPingInterval,
		closed:       make(chan struct{}),
	}
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Close requests termination from any state. The active socket is closed so
// a blocked read returns immediately.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.mu.Unlock()
	})
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Run connects, subscribes, and streams until the context is cancelled or
// Close is called. Transport and protocol errors trigger reconnection with
// exponential backoff and jitter, capped at 30s.
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(StateClosed)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = maxReconnectBackoff

	for {
		if s.isClosed() || ctx.Err() != nil {
			return nil
		}
		s.setState(StateConnecting)

		streamed, err := s.connectAndStream(ctx)
		if err == nil || s.isClosed() || ctx.Err() != nil {
			return nil
		}
		if streamed {
			bo.Reset()
		}

		s.setState(StateReconnecting)
		metrics.Default().WSReconnects.WithLabelValues(s.venue).Inc()
		wait := bo.NextBackOff()
		log.Warn().Err(err).Str("venue", s.venue).Dur("backoff", wait).Msg("websocket session interrupted, reconnecting")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		case <-s.closed:
			return nil
		}
	}
}

// connectAndStream runs one connection attempt to completion. It reports
// whether any message was streamed, so the caller can reset its backoff.
func (s *Session) connectAndStream(ctx context.Context) (bool, error) {
	if err := s.handler.Prepare(ctx); err != nil {
		return false, err
	}

	ws, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	if s.isClosed() {
		s.mu.Unlock()
		_ = ws.Close()
		return false, nil
	}
	s.conn = ws
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = ws.Close()
	}()

	conn := &Conn{ws: ws}
	if err := s.handler.Subscribe(ctx, conn); err != nil {
		return false, err
	}
	s.setState(StateSubscribed)
	log.Info().Str("venue", s.venue).Str("url", s.url).Msg("websocket subscribed")

	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.pingLoop(ws, pingDone)

	streamed := false
	for {
		_ = ws.SetReadDeadline(time.Now().Add(s.readTimeout))
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if s.isClosed() || ctx.Err() != nil {
				return streamed, nil
			}
			return streamed, err
		}
		if !streamed {
			streamed = true
			s.setState(StateStreaming)
		}
		acts := s.handler.Handle(msg)
		if len(acts) > 0 && !s.isClosed() {
			s.emit(acts)
		}
	}
}

// pingLoop keeps the connection alive; a failed ping surfaces as a read
// error on the main loop.
func (s *Session) pingLoop(ws *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-s.closed:
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debug().Err(err).Str("venue", s.venue).Msg("websocket ping failed")
				return
			}
		}
	}
}
