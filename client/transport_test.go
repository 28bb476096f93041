package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	delay := backoffBase
	for i := 0; i < 20; i++ {
		delay = nextBackoff(delay)
		assert.LessOrEqual(t, delay, backoffMax)
	}
	assert.Equal(t, backoffMax, delay)

	assert.Equal(t, time.Second, nextBackoff(500*time.Millisecond))
}

func TestDialUnauthenticated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := Dial(context.Background(), server.URL, "bad-token", clockwork.NewRealClock(), slog.Default())
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestDialRejectsUnknownScheme(t *testing.T) {
	_, err := Dial(context.Background(), "ftp://example.com", "token", clockwork.NewRealClock(), slog.Default())
	assert.Error(t, err)
}

func TestTransportDispatchesByType(t *testing.T) {
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/ws", r.URL.Path)
		require.Equal(t, "tok", r.URL.Query().Get("auth-token"))

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		// echo every frame back with a reply type
		for {
			var msg envelope
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if err := conn.WriteJSON(envelope{Type: "reply", Payload: msg.Payload}); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	tr, err := Dial(context.Background(), server.URL, "tok", clockwork.NewRealClock(), slog.Default())
	require.NoError(t, err)
	defer tr.Close()

	var mu sync.Mutex
	var got []string
	tr.On("reply", func(payload json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(payload))
	})

	require.NoError(t, tr.Send("echo", map[string]string{"k": "v"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.JSONEq(t, `{"k":"v"}`, got[0])
	mu.Unlock()
}

func TestSendAfterCloseFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	tr, err := Dial(context.Background(), server.URL, "tok", clockwork.NewRealClock(), slog.Default())
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Send("anything", nil), ErrTransportClosed)
}
