package stream

import (
	"net/http"
	"time"
)

// State is the lifecycle phase of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "unknown"
	}
}

// DefaultURL is the production WebSocket endpoint.
const DefaultURL = "wss://ws.limitless.exchange"

// Config holds tunable parameters for a Session.
type Config struct {
	URL string

	// APIKey is attached to the handshake as X-API-Key when set.
	APIKey string

	// AutoReconnect re-establishes dropped connections with exponential
	// backoff and replays active subscriptions.
	AutoReconnect bool

	// Backoff parameters for reconnection.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffFactor  float64

	// MaxReconnectAttempts bounds consecutive failed reconnect dials.
	// Zero means unlimited.
	MaxReconnectAttempts int

	// HeartbeatTimeout is the maximum silence tolerated on the connection.
	// The session pings at half this interval and extends its read deadline
	// on every frame and pong; a half-open connection that stays silent
	// longer counts as dead and triggers a reconnect. Zero disables the
	// heartbeat.
	HeartbeatTimeout time.Duration

	// HandshakeTimeout bounds the WebSocket upgrade.
	HandshakeTimeout time.Duration

	// Headers are extra handshake headers.
	Headers http.Header
}

// DefaultConfig returns defaults tuned for a long-lived market-data session.
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		AutoReconnect:    true,
		BackoffInitial:   time.Second,
		BackoffMax:       30 * time.Second,
		BackoffFactor:    2.0,
		HeartbeatTimeout: 30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}
