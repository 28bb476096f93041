package app

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchsync/couchsync/internal/controller"
	"github.com/couchsync/couchsync/internal/repository/connection/inmemory"
	roomRedis "github.com/couchsync/couchsync/internal/repository/room/redis"
	"github.com/couchsync/couchsync/internal/service/room"
	"github.com/couchsync/couchsync/internal/wssender"
	"github.com/couchsync/couchsync/pkg/protocol"
)

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := clockwork.NewRealClock()

	roomRepo := roomRedis.NewRepo(rc, time.Hour)
	connRepo := inmemory.NewRepo()
	sender := wssender.New()
	roomService := room.NewService(roomRepo, connRepo, sender, clock, logger, &room.Config{
		Secret:           "e2e-secret",
		ShareBaseURL:     "couchsync://room",
		MembersLimit:     8,
		RoomExp:          time.Hour,
		GracePeriod:      15 * time.Second,
		DefaultRateLimit: 100,
	})

	c := controller.NewController(roomService, sender, clock, logger)
	server := httptest.NewServer(c.GetMux())
	t.Cleanup(server.Close)

	return server
}

func postJSON(t *testing.T, url string, body any) (int, map[string]json.RawMessage) {
	t.Helper()

	b, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))

	return resp.StatusCode, envelope
}

func dialWS(t *testing.T, server *httptest.Server, authToken string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws?auth-token=" + authToken
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func sendWS(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()

	b, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(wsMessage{Type: msgType, Payload: b}))
}

func readWS(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))

	return msg
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/v1/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRoomLifecycle(t *testing.T) {
	server := newTestServer(t)

	// host registers the room
	status, body := postJSON(t, server.URL+"/api/v1/room", map[string]any{
		"file_fingerprint": "sha256:e2e",
		"file_size":        1 << 20,
		"duration_ms":      60000,
		"codec":            "h264",
	})
	require.Equal(t, http.StatusCreated, status)

	var created struct {
		RoomID    string `json:"room_id"`
		ShareURL  string `json:"share_url"`
		UserID    string `json:"user_id"`
		AuthToken string `json:"auth_token"`
	}
	require.NoError(t, json.Unmarshal(body["data"], &created))
	require.NotEmpty(t, created.RoomID)
	require.NotEmpty(t, created.AuthToken)
	assert.Contains(t, created.ShareURL, created.RoomID)

	// a mismatched file is rejected at resolve time
	status, body = postJSON(t, server.URL+"/api/v1/room/"+created.RoomID+"/resolve", map[string]any{
		"file_fingerprint": "sha256:wrong-file",
	})
	require.Equal(t, http.StatusConflict, status)

	var mismatch struct {
		FingerprintMatches bool   `json:"fingerprint_matches"`
		AuthToken          string `json:"auth_token"`
	}
	require.NoError(t, json.Unmarshal(body["data"], &mismatch))
	assert.False(t, mismatch.FingerprintMatches)
	assert.Empty(t, mismatch.AuthToken)

	// a matching file gets a follower token
	status, body = postJSON(t, server.URL+"/api/v1/room/"+created.RoomID+"/resolve", map[string]any{
		"file_fingerprint": "sha256:e2e",
	})
	require.Equal(t, http.StatusOK, status)

	var resolved struct {
		FingerprintMatches bool   `json:"fingerprint_matches"`
		UserID             string `json:"user_id"`
		AuthToken          string `json:"auth_token"`
	}
	require.NoError(t, json.Unmarshal(body["data"], &resolved))
	require.True(t, resolved.FingerprintMatches)
	require.NotEmpty(t, resolved.AuthToken)

	// both sides connect and join
	hostConn := dialWS(t, server, created.AuthToken)
	sendWS(t, hostConn, protocol.EventJoinRoom, protocol.JoinRoomPayload{
		RoomID:          created.RoomID,
		Role:            protocol.RoleHost,
		FileFingerprint: "sha256:e2e",
	})
	joined := readWS(t, hostConn)
	require.Equal(t, protocol.EventJoined, joined.Type)

	followerConn := dialWS(t, server, resolved.AuthToken)
	sendWS(t, followerConn, protocol.EventJoinRoom, protocol.JoinRoomPayload{
		RoomID:          created.RoomID,
		Role:            protocol.RoleFollower,
		FileFingerprint: "sha256:e2e",
	})
	joined = readWS(t, followerConn)
	require.Equal(t, protocol.EventJoined, joined.Type)

	var joinedPayload protocol.JoinedPayload
	require.NoError(t, json.Unmarshal(joined.Payload, &joinedPayload))
	assert.Len(t, joinedPayload.Participants, 2)
	assert.False(t, joinedPayload.CurrentState.IsPlaying)

	// host plays; the follower gets the relay, the host gets no echo
	now := time.Now().UnixMilli()
	sendWS(t, hostConn, protocol.EventHostPlay, protocol.PlayPayload{
		RoomID:          created.RoomID,
		PositionSec:     10.0,
		HostTimestampMs: now,
		PlaybackRate:    1.0,
	})

	relayed := readWS(t, followerConn)
	require.Equal(t, protocol.EventHostPlay, relayed.Type)

	var playPayload protocol.PlayPayload
	require.NoError(t, json.Unmarshal(relayed.Payload, &playPayload))
	assert.Equal(t, 10.0, playPayload.PositionSec)
	assert.Equal(t, now, playPayload.HostTimestampMs)

	// a follower attempting a host command gets an explicit rejection
	sendWS(t, followerConn, protocol.EventHostSeek, protocol.SeekPayload{
		RoomID:          created.RoomID,
		PositionSec:     99.0,
		HostTimestampMs: time.Now().UnixMilli(),
	})
	errMsg := readWS(t, followerConn)
	require.Equal(t, protocol.EventError, errMsg.Type)

	var errPayload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(errMsg.Payload, &errPayload))
	assert.Equal(t, protocol.CodeUnauthorized, errPayload.Code)

	// clock probe round trip; the host reads the pong, not a play echo
	sendWS(t, hostConn, protocol.EventPing, protocol.PingPayload{
		Nonce: "probe-1",
		Ts:    time.Now().UnixMilli(),
	})
	pong := readWS(t, hostConn)
	require.Equal(t, protocol.EventPong, pong.Type)

	var pongPayload protocol.PongPayload
	require.NoError(t, json.Unmarshal(pong.Payload, &pongPayload))
	assert.Equal(t, "probe-1", pongPayload.Nonce)
	assert.NotZero(t, pongPayload.ServerTs)
}

func TestMalformedPayloadRejected(t *testing.T) {
	server := newTestServer(t)

	status, body := postJSON(t, server.URL+"/api/v1/room", map[string]any{
		"file_fingerprint": "sha256:e2e",
		"file_size":        1 << 20,
	})
	require.Equal(t, http.StatusCreated, status)

	var created struct {
		RoomID    string `json:"room_id"`
		AuthToken string `json:"auth_token"`
	}
	require.NoError(t, json.Unmarshal(body["data"], &created))

	conn := dialWS(t, server, created.AuthToken)

	// a payload that does not unmarshal must come back as INVALID_DATA,
	// not vanish into a silent drop
	sendWS(t, conn, protocol.EventHostSeek,
		json.RawMessage(`{"room_id":"`+created.RoomID+`","position_sec":"not-a-number"}`))

	errMsg := readWS(t, conn)
	require.Equal(t, protocol.EventError, errMsg.Type)

	var errPayload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(errMsg.Payload, &errPayload))
	assert.Equal(t, protocol.CodeInvalidData, errPayload.Code)
	assert.Contains(t, errPayload.Message, protocol.EventHostSeek)

	// the connection survives the bad frame
	sendWS(t, conn, protocol.EventPing, protocol.PingPayload{
		Nonce: "after-bad-frame",
		Ts:    time.Now().UnixMilli(),
	})
	pong := readWS(t, conn)
	require.Equal(t, protocol.EventPong, pong.Type)
}

func TestWSRejectsBadToken(t *testing.T) {
	server := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws?auth-token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
