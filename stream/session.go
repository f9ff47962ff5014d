// Package stream maintains the exchange's WebSocket feed: a single connection
// with automatic reconnection, subscription replay, and per-event dispatch.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/limitless-exchange/limitless-go/api"
)

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("stream: session closed")

// Envelope is the wire frame for every message in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler processes the payload of one inbound event. Handlers run on the
// session's read goroutine; a panicking handler is recovered and logged
// without disturbing the connection or other handlers.
type Handler func(payload json.RawMessage)

// subscription is one replayable channel registration.
type subscription struct {
	channel string
	payload json.RawMessage
}

// Session is a resilient WebSocket connection to the exchange feed. After a
// drop it reconnects with exponential backoff and replays every active
// subscription in its original registration order, each exactly once.
type Session struct {
	cfg    Config
	logger logrus.FieldLogger

	state atomic.Int32

	mu   sync.Mutex
	conn *websocket.Conn

	// subs preserves registration order for replay.
	subMu sync.Mutex
	subs  []subscription

	handlerMu sync.RWMutex
	handlers  map[string][]Handler

	outbox chan []byte

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	// onReconnect is called after each successful reconnection (testing hook).
	onReconnect func()
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the structured logger.
func WithLogger(logger logrus.FieldLogger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// NewSession creates a session. Call Connect to start.
func NewSession(cfg Config, opts ...SessionOption) *Session {
	s := &Session{
		cfg:      cfg,
		logger:   api.DiscardLogger(),
		handlers: make(map[string][]Handler),
		outbox:   make(chan []byte, 256),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the session's current lifecycle phase.
func (s *Session) State() State {
	return State(s.state.Load())
}

// On registers a handler for an inbound event name. Multiple handlers per
// event run in registration order.
func (s *Session) On(event string, h Handler) {
	s.handlerMu.Lock()
	s.handlers[event] = append(s.handlers[event], h)
	s.handlerMu.Unlock()
}

// Connect dials the feed and starts the read and write loops. Calling it on
// a session that is already connecting or connected is a no-op; calling it
// after Close returns ErrSessionClosed. When the initial dial fails and
// auto-reconnect is enabled, Connect returns nil with the session in
// RECONNECTING and keeps retrying in the background; with auto-reconnect
// disabled the session closes and the dial error is returned.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch State(s.state.Load()) {
	case StateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	case StateConnecting, StateConnected, StateReconnecting:
		s.mu.Unlock()
		return nil
	}
	s.state.Store(int32(StateConnecting))
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.dial(ctx); err != nil {
		if !s.cfg.AutoReconnect {
			s.Close()
			return fmt.Errorf("stream: connect %s: %w", s.cfg.URL, err)
		}
		s.logger.WithFields(logrus.Fields{
			"url":   s.cfg.URL,
			"error": err.Error(),
		}).Warn("stream connect failed, retrying")
		if !s.setState(StateReconnecting) {
			return ErrSessionClosed
		}
		go func() {
			if s.reconnect(ctx) {
				go s.readLoop(ctx)
				go s.writeLoop(ctx)
			} else {
				s.Close()
			}
		}()
		return nil
	}

	if !s.setState(StateConnected) {
		return ErrSessionClosed
	}
	s.logger.WithField("url", s.cfg.URL).Info("stream connected")

	go s.readLoop(ctx)
	go s.writeLoop(ctx)

	// Anything registered while disconnected goes out now.
	s.replaySubscriptions()

	return nil
}

// setState applies a lifecycle transition unless the session has already
// closed. CLOSED is terminal.
func (s *Session) setState(st State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if State(s.state.Load()) == StateClosed {
		return false
	}
	s.state.Store(int32(st))
	return true
}

// Subscribe registers a channel subscription and, when connected, sends it
// immediately. The registration survives reconnects: it is replayed after
// every successful redial. Re-subscribing an already registered channel
// replaces its payload in place, keeping the original replay position.
func (s *Session) Subscribe(channel string, payload any) error {
	if s.State() == StateClosed {
		return ErrSessionClosed
	}

	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("stream: encode subscribe payload: %w", err)
		}
		raw = encoded
	}

	s.subMu.Lock()
	replaced := false
	for i := range s.subs {
		if s.subs[i].channel == channel {
			s.subs[i].payload = raw
			replaced = true
			break
		}
	}
	if !replaced {
		s.subs = append(s.subs, subscription{channel: channel, payload: raw})
	}
	s.subMu.Unlock()

	if s.State() == StateConnected {
		return s.send(Envelope{Event: channel, Payload: raw})
	}
	return nil
}

// Unsubscribe removes a registration and, when connected, notifies the
// server. The unsubscribe event name is derived by convention from the
// subscribe one ("subscribe_x" becomes "unsubscribe_x").
func (s *Session) Unsubscribe(channel string) error {
	if s.State() == StateClosed {
		return ErrSessionClosed
	}

	s.subMu.Lock()
	var payload json.RawMessage
	found := false
	for i := range s.subs {
		if s.subs[i].channel == channel {
			payload = s.subs[i].payload
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			found = true
			break
		}
	}
	s.subMu.Unlock()

	if !found || s.State() != StateConnected {
		return nil
	}
	return s.send(Envelope{Event: unsubscribeEvent(channel), Payload: payload})
}

// Subscriptions returns the registered channels in replay order.
func (s *Session) Subscriptions() []string {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	out := make([]string, len(s.subs))
	for i, sub := range s.subs {
		out[i] = sub.channel
	}
	return out
}

// Close shuts the session down. Safe to call more than once; any in-flight
// reconnect wait is cancelled. The session cannot be reused afterwards.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state.Store(int32(StateClosed))
		cancel := s.cancel
		conn := s.conn
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if conn != nil {
			conn.Close()
		}
		close(s.done)
		s.logger.Info("stream closed")
	})
}

// Done returns a channel closed when the session has fully shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// send marshals an envelope into the outbox.
func (s *Session) send(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("stream: encode envelope: %w", err)
	}
	select {
	case s.outbox <- data:
		return nil
	default:
		return errors.New("stream: outbox full")
	}
}

func (s *Session) dial(ctx context.Context) error {
	headers := http.Header{}
	for k, vs := range s.cfg.Headers {
		headers[k] = vs
	}
	if s.cfg.APIKey != "" {
		headers.Set("X-API-Key", s.cfg.APIKey)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: s.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, headers)
	if err != nil {
		return err
	}

	if hb := s.cfg.HeartbeatTimeout; hb > 0 {
		conn.SetReadDeadline(time.Now().Add(hb))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(hb))
		})
	}

	s.mu.Lock()
	if State(s.state.Load()) == StateClosed {
		s.mu.Unlock()
		conn.Close()
		return ErrSessionClosed
	}
	s.conn = conn
	s.mu.Unlock()
	return nil
}

// reconnect loops with exponential backoff until a connection is
// re-established, the attempt budget is exhausted, or the context is
// cancelled. On success it replays every subscription in order; on failure
// the caller decides the terminal state (every failure path ends in Close).
func (s *Session) reconnect(ctx context.Context) bool {
	if !s.setState(StateReconnecting) {
		return false
	}

	delay := s.cfg.BackoffInitial
	for attempt := 1; ; attempt++ {
		if s.cfg.MaxReconnectAttempts > 0 && attempt > s.cfg.MaxReconnectAttempts {
			s.logger.WithField("attempts", attempt-1).Warn("stream reconnect attempts exhausted")
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		if err := s.dial(ctx); err != nil {
			s.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"delay":   delay.String(),
				"error":   err.Error(),
			}).Warn("stream reconnect failed")
			delay = time.Duration(math.Min(
				float64(delay)*s.cfg.BackoffFactor,
				float64(s.cfg.BackoffMax),
			))
			continue
		}

		if !s.setState(StateConnected) {
			return false
		}
		s.logger.WithField("attempt", attempt).Info("stream reconnected")
		s.replaySubscriptions()
		if s.onReconnect != nil {
			s.onReconnect()
		}
		return true
	}
}

// replaySubscriptions re-sends every registered subscription in its original
// order, once each.
func (s *Session) replaySubscriptions() {
	s.subMu.Lock()
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.subMu.Unlock()

	for _, sub := range subs {
		if err := s.send(Envelope{Event: sub.channel, Payload: sub.payload}); err != nil {
			s.logger.WithFields(logrus.Fields{
				"channel": sub.channel,
				"error":   err.Error(),
			}).Warn("stream subscription replay failed")
		}
	}
}

// readLoop reads frames, decodes envelopes, and dispatches them. A read
// error, including a heartbeat deadline expiring on a silent connection,
// triggers a reconnect when enabled; otherwise the session closes.
func (s *Session) readLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		c := s.conn
		s.mu.Unlock()

		if s.cfg.HeartbeatTimeout > 0 {
			c.SetReadDeadline(time.Now().Add(s.cfg.HeartbeatTimeout))
		}
		_, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || s.State() == StateClosed {
				return
			}
			s.logger.WithField("error", err.Error()).Warn("stream read error")
			c.Close()
			if !s.cfg.AutoReconnect || !s.reconnect(ctx) {
				s.Close()
				return
			}
			continue
		}

		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			s.logger.WithField("error", err.Error()).Debug("stream: undecodable frame dropped")
			continue
		}
		s.dispatch(env)
	}
}

// writeLoop drains the outbox onto the current connection and, when the
// heartbeat is enabled, pings at half the silence budget. All writes happen
// on this goroutine.
func (s *Session) writeLoop(ctx context.Context) {
	var ping <-chan time.Time
	if s.cfg.HeartbeatTimeout > 0 {
		ticker := time.NewTicker(s.cfg.HeartbeatTimeout / 2)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping:
			s.mu.Lock()
			c := s.conn
			s.mu.Unlock()
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.WithField("error", err.Error()).Debug("stream ping failed")
			}
		case data := <-s.outbox:
			s.mu.Lock()
			c := s.conn
			s.mu.Unlock()
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.WithField("error", err.Error()).Warn("stream write error")
			}
		}
	}
}

// dispatch runs every handler registered for the event. Handler panics are
// contained per handler.
func (s *Session) dispatch(env Envelope) {
	s.handlerMu.RLock()
	handlers := s.handlers[env.Event]
	s.handlerMu.RUnlock()

	for _, h := range handlers {
		s.invoke(env.Event, h, env.Payload)
	}
}

func (s *Session) invoke(event string, h Handler, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"event": event,
				"panic": fmt.Sprint(r),
			}).Error("stream handler panicked")
		}
	}()
	h(payload)
}

func unsubscribeEvent(channel string) string {
	const prefix = "subscribe_"
	if len(channel) > len(prefix) && channel[:len(prefix)] == prefix {
		return "un" + channel
	}
	return "unsubscribe_" + channel
}
