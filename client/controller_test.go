package client

import (
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchsync/couchsync/pkg/protocol"
)

type sentEvent struct {
	msgType string
	payload any
}

type fakeTransport struct {
	mu          sync.Mutex
	sent        []sentEvent
	handlers    map[string]func(payload json.RawMessage)
	onReconnect func()
	closed      bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]func(payload json.RawMessage))}
}

func (f *fakeTransport) Send(msgType string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEvent{msgType: msgType, payload: payload})
	return nil
}

func (f *fakeTransport) On(eventName string, handler func(payload json.RawMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[eventName] = handler
}

func (f *fakeTransport) SetOnReconnect(hook func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onReconnect = hook
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) deliver(t *testing.T, msgType string, payload any) {
	t.Helper()

	b, err := json.Marshal(payload)
	require.NoError(t, err)

	f.mu.Lock()
	handler := f.handlers[msgType]
	f.mu.Unlock()
	require.NotNil(t, handler, "no handler registered for %s", msgType)

	handler(b)
}

func (f *fakeTransport) sentOf(msgType string) []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []sentEvent
	for _, s := range f.sent {
		if s.msgType == msgType {
			out = append(out, s)
		}
	}
	return out
}

type fakeEngine struct {
	position float64
	rate     float64
	playing  bool
	seeks    []float64
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{rate: 1.0}
}

func (e *fakeEngine) Position() float64 { return e.position }
func (e *fakeEngine) Seek(positionSec float64) {
	e.position = positionSec
	e.seeks = append(e.seeks, positionSec)
}
func (e *fakeEngine) Play()             { e.playing = true }
func (e *fakeEngine) Pause()            { e.playing = false }
func (e *fakeEngine) Rate() float64     { return e.rate }
func (e *fakeEngine) SetRate(r float64) { e.rate = r }
func (e *fakeEngine) IsPlaying() bool   { return e.playing }

type fakeRTT struct {
	ms int64
}

func (f *fakeRTT) CurrentMs() int64 { return f.ms }
func (f *fakeRTT) Reset()           {}
func (f *fakeRTT) Stop()            {}

func newTestController(t *testing.T, role protocol.Role) (*Controller, *fakeTransport, *fakeEngine, *clockwork.FakeClock) {
	t.Helper()

	transport := newFakeTransport()
	engine := newFakeEngine()
	clock := clockwork.NewFakeClock()

	c := NewController(transport, engine, &fakeRTT{}, clock, slog.Default(), &Config{
		RoomID:          "room-1",
		UserID:          "user-1",
		Role:            role,
		FileFingerprint: "sha256:abc",
	})
	t.Cleanup(func() { c.Close() })

	return c, transport, engine, clock
}

func TestFreshestTimestampWins(t *testing.T) {
	_, transport, engine, clock := newTestController(t, protocol.RoleFollower)

	base := clock.Now().UnixMilli()

	// the seek (newer host timestamp) is delivered first
	transport.deliver(t, protocol.EventHostSeek, protocol.SeekPayload{
		RoomID:          "room-1",
		PositionSec:     50.0,
		HostTimestampMs: base + 2000,
	})
	assert.Equal(t, 50.0, engine.position)

	// the older heartbeat arrives late and must not clobber the seek
	transport.deliver(t, protocol.EventHostTimeSync, protocol.TimeSyncPayload{
		RoomID:          "room-1",
		PositionSec:     20.0,
		HostTimestampMs: base + 1000,
		IsPlaying:       true,
	})
	assert.Equal(t, 50.0, engine.position, "stale heartbeat clobbered a newer seek")
}

func TestTimeSyncIdempotent(t *testing.T) {
	_, transport, engine, clock := newTestController(t, protocol.RoleFollower)

	payload := protocol.TimeSyncPayload{
		RoomID:          "room-1",
		PositionSec:     30.0,
		HostTimestampMs: clock.Now().UnixMilli(),
		IsPlaying:       true,
	}

	transport.deliver(t, protocol.EventHostTimeSync, payload)
	require.Len(t, engine.seeks, 1, "first heartbeat with large drift must seek")

	transport.deliver(t, protocol.EventHostTimeSync, payload)
	assert.Len(t, engine.seeks, 1, "replaying the same heartbeat must not seek again")
}

func TestScrubSuppressionFollower(t *testing.T) {
	c, transport, engine, clock := newTestController(t, protocol.RoleFollower)

	c.ScrubStart()

	transport.deliver(t, protocol.EventHostSeek, protocol.SeekPayload{
		RoomID:          "room-1",
		PositionSec:     70.0,
		HostTimestampMs: clock.Now().UnixMilli() + 100,
	})
	assert.Empty(t, engine.seeks, "incoming events must not move the engine mid-scrub")

	c.ScrubEnd(25.0)
	assert.Equal(t, 25.0, engine.position, "scrub end applies the user's position")

	clock.Advance(defaultScrubGrace + 10*time.Millisecond)

	// the buffered remote seek is fresher than anything applied, so it wins
	// once the grace window closes
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return engine.position == 70.0
	}, time.Second, 5*time.Millisecond, "buffered freshest event must be replayed after the grace window")
}

func TestScrubEmitsExactlyOneSeekAsHost(t *testing.T) {
	c, transport, engine, clock := newTestController(t, protocol.RoleHost)

	c.ScrubStart()

	// a stale in-flight event arrives mid-drag
	transport.deliver(t, protocol.EventHostTimeSync, protocol.TimeSyncPayload{
		RoomID:          "room-1",
		PositionSec:     10.0,
		HostTimestampMs: clock.Now().UnixMilli(),
		IsPlaying:       true,
	})

	c.ScrubEnd(42.0)
	assert.Empty(t, transport.sentOf(protocol.EventHostSeek), "no seek before the grace window closes")

	clock.Advance(defaultScrubGrace + 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(transport.sentOf(protocol.EventHostSeek)) == 1
	}, time.Second, 5*time.Millisecond)

	seeks := transport.sentOf(protocol.EventHostSeek)
	payload := seeks[0].payload.(protocol.SeekPayload)
	assert.Equal(t, 42.0, payload.PositionSec)
	assert.Equal(t, 42.0, engine.position, "buffered stale event must not undo the user's seek")

	// nothing else trickles out later
	clock.Advance(time.Second)
	assert.Len(t, transport.sentOf(protocol.EventHostSeek), 1, "exactly one outgoing seek per scrub")
}

func TestHostActionsEmitOneEventEach(t *testing.T) {
	c, transport, engine, _ := newTestController(t, protocol.RoleHost)

	require.NoError(t, c.Play())
	assert.True(t, engine.playing)
	assert.Len(t, transport.sentOf(protocol.EventHostPlay), 1)

	require.NoError(t, c.Pause())
	assert.False(t, engine.playing)
	assert.Len(t, transport.sentOf(protocol.EventHostPause), 1)

	require.NoError(t, c.Seek(77.0))
	assert.Equal(t, 77.0, engine.position)
	assert.Len(t, transport.sentOf(protocol.EventHostSeek), 1)

	require.NoError(t, c.SetRate(1.5))
	assert.Equal(t, 1.5, engine.rate)
	assert.Len(t, transport.sentOf(protocol.EventHostSpeedChange), 1)
}

func TestFollowerPauseStaysLocal(t *testing.T) {
	c, transport, engine, _ := newTestController(t, protocol.RoleFollower)

	engine.playing = true
	require.NoError(t, c.Pause())
	assert.False(t, engine.playing)
	assert.Empty(t, transport.sent, "a follower's pause is local only")

	require.NoError(t, c.Play())
	assert.True(t, engine.playing)
	assert.Empty(t, transport.sent)
}

func TestHeartbeatWhileHostAndPlaying(t *testing.T) {
	c, transport, engine, clock := newTestController(t, protocol.RoleHost)

	require.NoError(t, c.Start())
	assert.Len(t, transport.sentOf(protocol.EventJoinRoom), 1)

	engine.playing = true
	engine.position = 12.0

	clock.BlockUntil(1)
	clock.Advance(defaultHeartbeatPeriod)

	require.Eventually(t, func() bool {
		return len(transport.sentOf(protocol.EventHostTimeSync)) >= 1
	}, time.Second, 5*time.Millisecond)

	hb := transport.sentOf(protocol.EventHostTimeSync)[0].payload.(protocol.TimeSyncPayload)
	assert.Equal(t, 12.0, hb.PositionSec)
	assert.True(t, hb.IsPlaying)

	// paused host stays quiet
	engine.playing = false
	before := len(transport.sentOf(protocol.EventHostTimeSync))
	clock.Advance(3 * defaultHeartbeatPeriod)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, len(transport.sentOf(protocol.EventHostTimeSync)), "no heartbeat while paused")
}

func TestHostDisconnectedPausesDefensively(t *testing.T) {
	_, transport, engine, _ := newTestController(t, protocol.RoleFollower)

	engine.playing = true

	transport.deliver(t, protocol.EventHostDisconnected, protocol.HostDisconnectedPayload{
		Message:       "host disconnected",
		GracePeriodMs: 15000,
	})
	assert.False(t, engine.playing, "followers pause while the host state is unknown")

	transport.deliver(t, protocol.EventHostReconnected, struct{}{})
	assert.True(t, engine.playing, "reconnect resumes a defensively paused follower")
}

func TestHostIgnoresIncomingState(t *testing.T) {
	_, transport, engine, clock := newTestController(t, protocol.RoleHost)

	engine.position = 30.0
	engine.playing = false

	// a stale canonical snapshot after reconnect must not steer the host's
	// own engine
	transport.deliver(t, protocol.EventRoomState, protocol.RoomStatePayload{
		RoomID: "room-1",
		CurrentState: protocol.PlaybackState{
			IsPlaying:    true,
			PositionSec:  90.0,
			PlaybackRate: 1.0,
			LastUpdateMs: clock.Now().UnixMilli(),
		},
	})
	assert.Equal(t, 30.0, engine.position)
	assert.False(t, engine.playing)
	assert.Empty(t, engine.seeks)

	// same for a relayed event racing a transfer
	transport.deliver(t, protocol.EventHostPlay, protocol.PlayPayload{
		RoomID:          "room-1",
		PositionSec:     90.0,
		HostTimestampMs: clock.Now().UnixMilli() + 1000,
		PlaybackRate:    1.0,
	})
	assert.False(t, engine.playing)
	assert.Empty(t, engine.seeks)
}

func TestHostTransferredFlipsRole(t *testing.T) {
	c, transport, _, _ := newTestController(t, protocol.RoleFollower)

	require.False(t, c.IsHost())

	transport.deliver(t, protocol.EventHostTransferred, protocol.HostTransferredPayload{
		NewHostUserID: "someone-else",
		Reason:        "grace period expired",
	})
	assert.False(t, c.IsHost())

	transport.deliver(t, protocol.EventHostTransferred, protocol.HostTransferredPayload{
		NewHostUserID: "user-1",
		Reason:        "grace period expired",
	})
	assert.True(t, c.IsHost(), "transfer naming this user must flip the host flag")
}

func TestReconnectRejoinsAndRequestsState(t *testing.T) {
	c, transport, _, _ := newTestController(t, protocol.RoleFollower)

	require.NoError(t, c.Start())
	require.Len(t, transport.sentOf(protocol.EventJoinRoom), 1)

	transport.mu.Lock()
	hook := transport.onReconnect
	transport.mu.Unlock()
	require.NotNil(t, hook)

	hook()

	assert.Len(t, transport.sentOf(protocol.EventJoinRoom), 2, "reconnect must re-join")
	assert.Len(t, transport.sentOf(protocol.EventRequestRoomState), 1, "reconnect must re-request state")
}
