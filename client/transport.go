package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotConnected    = errors.New("not connected")
	ErrTransportClosed = errors.New("transport closed")
)

const (
	backoffBase = 500 * time.Millisecond
	backoffMax  = 30 * time.Second
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Transport is the client side of the websocket connection. Incoming frames
// are dispatched to per-event handlers from a single reader goroutine; a
// dropped connection is redialed with capped exponential backoff. Reconnect
// is transparent at the transport level only: delivery gaps are possible and
// the OnReconnect hook is where the caller re-joins and re-requests state.
type Transport struct {
	wsURL  string
	dialer *websocket.Dialer
	clock  clockwork.Clock
	logger *slog.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	handlers    map[string]func(payload json.RawMessage)
	onReconnect func()

	closed    chan struct{}
	closeOnce sync.Once
}

// Dial connects to serverURL (http, https, ws or wss scheme) authenticating
// with the connect token. A 401 handshake reply maps to ErrUnauthenticated.
func Dial(ctx context.Context, serverURL, authToken string, clock clockwork.Clock, logger *slog.Logger) (*Transport, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse server url: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	u.Path = "/api/v1/ws"

	q := u.Query()
	q.Set("auth-token", authToken)
	u.RawQuery = q.Encode()

	t := &Transport{
		wsURL:    u.String(),
		dialer:   websocket.DefaultDialer,
		clock:    clock,
		logger:   logger,
		handlers: make(map[string]func(payload json.RawMessage)),
		closed:   make(chan struct{}),
	}

	conn, err := t.dial(ctx)
	if err != nil {
		return nil, err
	}
	t.conn = conn

	go t.readLoop()

	return t, nil
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := t.dialer.DialContext(ctx, t.wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	return conn, nil
}

// On registers the handler for one envelope type. Handlers run on the reader
// goroutine and must not block.
func (t *Transport) On(eventName string, handler func(payload json.RawMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.handlers[eventName] = handler
}

// SetOnReconnect registers the hook invoked after every successful redial.
func (t *Transport) SetOnReconnect(hook func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onReconnect = hook
}

func (t *Transport) Send(msgType string, payload any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}

	if t.conn == nil {
		return ErrNotConnected
	}

	return t.conn.WriteJSON(envelope{
		Type:    msgType,
		Payload: mustMarshal(payload),
	})
}

func (t *Transport) readLoop() {
	for {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()

		if conn == nil {
			return
		}

		var msg envelope
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-t.closed:
				return
			default:
			}

			t.logger.Debug("connection lost, reconnecting", "error", err)
			if !t.reconnect() {
				return
			}
			continue
		}

		t.mu.Lock()
		handler := t.handlers[msg.Type]
		t.mu.Unlock()

		if handler == nil {
			t.logger.Debug("no handler for message", "type", msg.Type)
			continue
		}

		handler(msg.Payload)
	}
}

// reconnect redials until it succeeds or the transport is closed. Returns
// false when closed.
func (t *Transport) reconnect() bool {
	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.mu.Unlock()

	delay := backoffBase
	for {
		select {
		case <-t.closed:
			return false
		case <-t.clock.After(delay):
		}

		conn, err := t.dial(context.Background())
		if err != nil {
			if errors.Is(err, ErrUnauthenticated) {
				// redialing will not fix a rejected token
				t.logger.Warn("reconnect rejected", "error", err)
				t.Close()
				return false
			}

			t.logger.Debug("reconnect failed", "error", err, "next_delay", delay)
			delay = nextBackoff(delay)
			continue
		}

		t.mu.Lock()
		t.conn = conn
		hook := t.onReconnect
		t.mu.Unlock()

		if hook != nil {
			hook()
		}

		return true
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > backoffMax {
		return backoffMax
	}

	return next
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
	})

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		err := t.conn.Close()
		t.conn = nil
		return err
	}

	return nil
}

func mustMarshal(payload any) json.RawMessage {
	if payload == nil {
		return nil
	}

	b, err := json.Marshal(payload)
	if err != nil {
		// payload structs are our own types; this cannot fail at runtime
		panic(err)
	}

	return b
}
