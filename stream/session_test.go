package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsServer upgrades every connection and pumps traffic through shared
// channels, so a session that reconnects keeps talking to the same test.
type wsServer struct {
	srv     *httptest.Server
	inbound chan Envelope
	push    chan []byte

	connMu sync.Mutex
	conns  []*websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	ws := &wsServer{
		inbound: make(chan Envelope, 64),
		push:    make(chan []byte, 64),
	}

	upgrader := websocket.Upgrader{}
	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		ws.connMu.Lock()
		ws.conns = append(ws.conns, c)
		ws.connMu.Unlock()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				_, msg, err := c.ReadMessage()
				if err != nil {
					return
				}
				var env Envelope
				if json.Unmarshal(msg, &env) == nil {
					ws.inbound <- env
				}
			}
		}()

		for {
			select {
			case <-done:
				return
			case frame := <-ws.push:
				if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

// dropConnections severs every upgraded connection. httptest stops tracking
// conns once they are hijacked for the upgrade, so Server.Close and
// CloseClientConnections leave them alive; tests use this to force a drop.
func (ws *wsServer) dropConnections() {
	ws.connMu.Lock()
	defer ws.connMu.Unlock()
	for _, c := range ws.conns {
		c.Close()
	}
	ws.conns = nil
}

func (ws *wsServer) url() string {
	return "ws" + strings.TrimPrefix(ws.srv.URL, "http")
}

func (ws *wsServer) expectEnvelope(t *testing.T, event string) Envelope {
	t.Helper()
	select {
	case env := <-ws.inbound:
		if env.Event != event {
			t.Fatalf("received event %q, want %q", env.Event, event)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", event)
		return Envelope{}
	}
}

func fastConfig(url string) Config {
	cfg := DefaultConfig(url)
	cfg.BackoffInitial = 20 * time.Millisecond
	cfg.BackoffMax = 100 * time.Millisecond
	return cfg
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		if s.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("state = %s, want %s", s.State(), want)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSession_ConnectAndSubscribe(t *testing.T) {
	srv := newWSServer(t)

	s := NewSession(fastConfig(srv.url()))
	defer s.Close()

	if s.State() != StateDisconnected {
		t.Fatalf("initial state = %s", s.State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if s.State() != StateConnected {
		t.Fatalf("state = %s, want CONNECTED", s.State())
	}

	if err := s.SubscribeMarketPrices("btc-100k"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	env := srv.expectEnvelope(t, ChannelMarketPrices)
	var sel struct {
		MarketSlugs []string `json:"marketSlugs"`
	}
	if err := json.Unmarshal(env.Payload, &sel); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(sel.MarketSlugs) != 1 || sel.MarketSlugs[0] != "btc-100k" {
		t.Fatalf("payload = %s", env.Payload)
	}
}

func TestSession_ConnectCoalesces(t *testing.T) {
	srv := newWSServer(t)

	s := NewSession(fastConfig(srv.url()))
	defer s.Close()

	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// A second Connect on a live session is a no-op.
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
}

func TestSession_DispatchesToHandlers(t *testing.T) {
	srv := newWSServer(t)

	s := NewSession(fastConfig(srv.url()))
	defer s.Close()

	got := make(chan json.RawMessage, 1)
	s.On("market_prices", func(payload json.RawMessage) {
		got <- payload
	})

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	srv.push <- []byte(`{"event":"market_prices","payload":{"slug":"btc-100k","price":0.51}}`)

	select {
	case payload := <-got:
		var p struct {
			Price float64 `json:"price"`
		}
		if err := json.Unmarshal(payload, &p); err != nil || p.Price != 0.51 {
			t.Fatalf("payload = %s (err %v)", payload, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestSession_HandlerPanicContained(t *testing.T) {
	srv := newWSServer(t)

	s := NewSession(fastConfig(srv.url()))
	defer s.Close()

	var second atomic.Int32
	s.On("market_prices", func(json.RawMessage) {
		panic("handler bug")
	})
	s.On("market_prices", func(json.RawMessage) {
		second.Add(1)
	})

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	srv.push <- []byte(`{"event":"market_prices","payload":{}}`)
	srv.push <- []byte(`{"event":"market_prices","payload":{}}`)

	deadline := time.After(2 * time.Second)
	for second.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("second handler calls = %d, want 2", second.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
	if s.State() != StateConnected {
		t.Fatalf("panicking handler disturbed the connection: %s", s.State())
	}
}

func TestSession_UnknownEventIgnored(t *testing.T) {
	srv := newWSServer(t)

	s := NewSession(fastConfig(srv.url()))
	defer s.Close()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	srv.push <- []byte(`{"event":"unmapped_event","payload":{}}`)
	srv.push <- []byte(`not json at all`)

	// Session must stay healthy.
	time.Sleep(100 * time.Millisecond)
	if s.State() != StateConnected {
		t.Fatalf("state = %s", s.State())
	}
}

func TestSession_ReplaysSubscriptionsOnReconnect(t *testing.T) {
	srv := newWSServer(t)

	cfg := fastConfig(srv.url())
	s := NewSession(cfg)
	defer s.Close()

	var reconnects atomic.Int32
	s.onReconnect = func() { reconnects.Add(1) }

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := s.SubscribeMarketPrices("btc-100k"); err != nil {
		t.Fatalf("Subscribe market prices: %v", err)
	}
	if err := s.SubscribePositions("btc-100k"); err != nil {
		t.Fatalf("Subscribe positions: %v", err)
	}
	srv.expectEnvelope(t, ChannelMarketPrices)
	srv.expectEnvelope(t, ChannelPositions)

	// Drop the connection; the session dials the replacement server.
	srv.dropConnections()

	deadline := time.After(3 * time.Second)
	for reconnects.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for reconnect")
		case <-time.After(20 * time.Millisecond):
		}
	}

	// Replay preserves registration order, one frame per subscription.
	srv.expectEnvelope(t, ChannelMarketPrices)
	srv.expectEnvelope(t, ChannelPositions)

	select {
	case env := <-srv.inbound:
		t.Fatalf("unexpected extra frame after replay: %q", env.Event)
	case <-time.After(200 * time.Millisecond):
	}

	if got := s.Subscriptions(); len(got) != 2 || got[0] != ChannelMarketPrices || got[1] != ChannelPositions {
		t.Fatalf("subscriptions = %v", got)
	}
}

func TestSession_ReconnectAttemptsExhausted(t *testing.T) {
	srv := newWSServer(t)

	cfg := fastConfig(srv.url())
	cfg.MaxReconnectAttempts = 2
	s := NewSession(cfg)
	defer s.Close()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Take the server down entirely so every redial fails.
	srv.srv.Close()
	srv.dropConnections()

	// An exhausted budget is terminal.
	waitForState(t, s, StateClosed)

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after exhaustion")
	}
}

func TestSession_ConnectFailureRetriesInBackground(t *testing.T) {
	var requests atomic.Int32
	inbound := make(chan Envelope, 16)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// First dial is refused; the session must recover on its own.
		if requests.Add(1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var env Envelope
			if json.Unmarshal(msg, &env) == nil {
				inbound <- env
			}
		}
	}))
	t.Cleanup(srv.Close)

	s := NewSession(fastConfig("ws" + strings.TrimPrefix(srv.URL, "http")))
	defer s.Close()

	if err := s.SubscribeMarketPrices("btc-100k"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect with auto-reconnect enabled must defer the failure, got %v", err)
	}
	if got := s.State(); got != StateReconnecting {
		t.Fatalf("state after failed dial = %s, want RECONNECTING", got)
	}

	waitForState(t, s, StateConnected)

	select {
	case env := <-inbound:
		if env.Event != ChannelMarketPrices {
			t.Fatalf("replayed event = %q, want %q", env.Event, ChannelMarketPrices)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription never replayed after recovery")
	}
}

func TestSession_ConnectFailureWithoutAutoReconnectCloses(t *testing.T) {
	srv := newWSServer(t)
	url := srv.url()
	srv.srv.Close() // nothing listening

	cfg := fastConfig(url)
	cfg.AutoReconnect = false
	s := NewSession(cfg)

	if err := s.Connect(context.Background()); err == nil {
		t.Fatal("Connect must surface the dial failure when auto-reconnect is off")
	}
	if got := s.State(); got != StateClosed {
		t.Fatalf("state after failed dial = %s, want CLOSED", got)
	}
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed")
	}
}

func TestSession_HeartbeatDetectsSilentConnection(t *testing.T) {
	quit := make(chan struct{})

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		// Never read or write: pings go unanswered and the feed stays silent.
		<-quit
	}))
	t.Cleanup(func() {
		close(quit)
		srv.Close()
	})

	cfg := fastConfig("ws" + strings.TrimPrefix(srv.URL, "http"))
	cfg.HeartbeatTimeout = 100 * time.Millisecond
	s := NewSession(cfg)
	defer s.Close()

	var reconnects atomic.Int32
	s.onReconnect = func() { reconnects.Add(1) }

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for reconnects.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("silent connection never treated as dead")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestSession_CloseDuringReconnectStaysClosed(t *testing.T) {
	srv := newWSServer(t)

	s := NewSession(fastConfig(srv.url()))
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Force an endless reconnect loop, then close mid-backoff.
	srv.srv.Close()
	srv.dropConnections()
	waitForState(t, s, StateReconnecting)

	s.Close()
	if got := s.State(); got != StateClosed {
		t.Fatalf("state = %s, want CLOSED", got)
	}

	// A redial racing Close must not resurrect the session.
	time.Sleep(200 * time.Millisecond)
	if got := s.State(); got != StateClosed {
		t.Fatalf("state drifted to %s after Close", got)
	}
	if err := s.Connect(context.Background()); err != ErrSessionClosed {
		t.Fatalf("Connect after Close = %v, want ErrSessionClosed", err)
	}
}

func TestSession_CloseIdempotent(t *testing.T) {
	srv := newWSServer(t)

	s := NewSession(fastConfig(srv.url()))
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	s.Close()
	s.Close() // must not panic

	if s.State() != StateClosed {
		t.Fatalf("state = %s, want CLOSED", s.State())
	}

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed")
	}

	if err := s.Connect(context.Background()); err != ErrSessionClosed {
		t.Fatalf("Connect after Close = %v, want ErrSessionClosed", err)
	}
	if err := s.SubscribeMarketPrices("x"); err != ErrSessionClosed {
		t.Fatalf("Subscribe after Close = %v, want ErrSessionClosed", err)
	}
}

func TestSession_SubscribeBeforeConnectIsReplayed(t *testing.T) {
	srv := newWSServer(t)

	s := NewSession(fastConfig(srv.url()))
	defer s.Close()

	// Registered while disconnected, sent on connect.
	if err := s.SubscribeMarketPrices("btc-100k"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	srv.expectEnvelope(t, ChannelMarketPrices)
}

func TestSession_ResubscribeReplacesInPlace(t *testing.T) {
	srv := newWSServer(t)

	s := NewSession(fastConfig(srv.url()))
	defer s.Close()

	if err := s.SubscribeMarketPrices("a"); err != nil {
		t.Fatal(err)
	}
	if err := s.SubscribePositions("a"); err != nil {
		t.Fatal(err)
	}
	if err := s.SubscribeMarketPrices("a", "b"); err != nil {
		t.Fatal(err)
	}

	got := s.Subscriptions()
	if len(got) != 2 || got[0] != ChannelMarketPrices || got[1] != ChannelPositions {
		t.Fatalf("re-subscribe must keep the original position: %v", got)
	}
}

func TestSession_Unsubscribe(t *testing.T) {
	srv := newWSServer(t)

	s := NewSession(fastConfig(srv.url()))
	defer s.Close()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.SubscribeMarketPrices("btc-100k"); err != nil {
		t.Fatal(err)
	}
	srv.expectEnvelope(t, ChannelMarketPrices)

	if err := s.Unsubscribe(ChannelMarketPrices); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	srv.expectEnvelope(t, "unsubscribe_market_prices")

	if len(s.Subscriptions()) != 0 {
		t.Fatalf("subscriptions = %v", s.Subscriptions())
	}
}

func TestUnsubscribeEvent(t *testing.T) {
	if got := unsubscribeEvent("subscribe_market_prices"); got != "unsubscribe_market_prices" {
		t.Errorf("got %q", got)
	}
	if got := unsubscribeEvent("custom_feed"); got != "unsubscribe_custom_feed" {
		t.Errorf("got %q", got)
	}
}
