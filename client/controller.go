// Package client is the playback synchronization SDK: it keeps a local media
// engine in lockstep with the room's host by reconciling relayed events
// against wall-clock drift and network latency, and publishes the local
// user's actions when this client is the host.
package client

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchsync/couchsync/pkg/protocol"
)

const (
	defaultHeartbeatPeriod = time.Second
	defaultScrubGrace      = 500 * time.Millisecond
)

type iTransport interface {
	Send(msgType string, payload any) error
	On(eventName string, handler func(payload json.RawMessage))
	SetOnReconnect(hook func())
	Close() error
}

type iRTTEstimator interface {
	CurrentMs() int64
	Reset()
	Stop()
}

type Config struct {
	RoomID          string
	UserID          string
	Role            protocol.Role
	FileFingerprint string
	Tolerances      Tolerances
	// HeartbeatPeriod is the cadence of hostTimeSync while this client is
	// the host and playing.
	HeartbeatPeriod time.Duration
	// ScrubGrace suppresses incoming events for a short window after the
	// user releases the seek bar, so an in-flight stale event cannot stomp
	// the seek that is about to be broadcast.
	ScrubGrace time.Duration
}

// Controller arbitrates between the network and the local media engine.
// Every engine access goes through one mutex; incoming events are applied
// freshest-host-timestamp-wins, so reordered delivery of a heartbeat and a
// discrete command cannot roll playback backwards.
type Controller struct {
	transport iTransport
	engine    MediaEngine
	rtt       iRTTEstimator
	clock     clockwork.Clock
	logger    *slog.Logger

	roomID          string
	userID          string
	fileFingerprint string
	tol             Tolerances
	heartbeatPeriod time.Duration
	scrubGrace      time.Duration

	mu                 sync.Mutex
	isHost             bool
	isScrubbing        bool
	lastAppliedEventTs int64
	pendingRemote      *RemoteEvent
	scrubTimer         clockwork.Timer
	defensivePaused    bool
	closed             bool

	stop     chan struct{}
	stopOnce sync.Once
}

func NewController(transport iTransport, engine MediaEngine, rtt iRTTEstimator, clock clockwork.Clock, logger *slog.Logger, cfg *Config) *Controller {
	heartbeatPeriod := cfg.HeartbeatPeriod
	if heartbeatPeriod <= 0 {
		heartbeatPeriod = defaultHeartbeatPeriod
	}
	scrubGrace := cfg.ScrubGrace
	if scrubGrace <= 0 {
		scrubGrace = defaultScrubGrace
	}
	tol := cfg.Tolerances
	if tol.SeekThresholdSec <= 0 && tol.HeartbeatDriftSec <= 0 {
		tol = DefaultTolerances()
	}

	c := Controller{
		transport:       transport,
		engine:          engine,
		rtt:             rtt,
		clock:           clock,
		logger:          logger,
		roomID:          cfg.RoomID,
		userID:          cfg.UserID,
		fileFingerprint: cfg.FileFingerprint,
		tol:             tol,
		heartbeatPeriod: heartbeatPeriod,
		scrubGrace:      scrubGrace,
		isHost:          cfg.Role == protocol.RoleHost,
		stop:            make(chan struct{}),
	}

	c.registerHandlers()

	return &c
}

// Start joins the room and launches the heartbeat loop. The joined reply
// arrives asynchronously and seeds the local state.
func (c *Controller) Start() error {
	c.transport.SetOnReconnect(c.onReconnect)

	if err := c.join(); err != nil {
		return err
	}

	go c.heartbeatLoop()

	return nil
}

func (c *Controller) join() error {
	c.mu.Lock()
	role := protocol.RoleFollower
	if c.isHost {
		role = protocol.RoleHost
	}
	c.mu.Unlock()

	return c.transport.Send(protocol.EventJoinRoom, protocol.JoinRoomPayload{
		RoomID:          c.roomID,
		Role:            role,
		FileFingerprint: c.fileFingerprint,
	})
}

// onReconnect runs after every transport redial. Membership does not survive
// a reconnect on the server, so the controller re-joins and asks for a fresh
// snapshot instead of waiting for the next heartbeat.
func (c *Controller) onReconnect() {
	c.rtt.Reset()

	if err := c.join(); err != nil {
		c.logger.Warn("failed to re-join after reconnect", "error", err)
		return
	}

	if err := c.transport.Send(protocol.EventRequestRoomState, protocol.RequestRoomStatePayload{
		RoomID: c.roomID,
	}); err != nil {
		c.logger.Warn("failed to request room state", "error", err)
	}
}

func (c *Controller) registerHandlers() {
	c.transport.On(protocol.EventHostPlay, func(payload json.RawMessage) {
		var p protocol.PlayPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			c.logger.Debug("malformed play payload", "error", err)
			return
		}
		c.applyRemote(RemoteEvent{
			Kind:            EventPlay,
			PositionSec:     p.PositionSec,
			HostTimestampMs: p.HostTimestampMs,
			PlaybackRate:    p.PlaybackRate,
		})
	})

	c.transport.On(protocol.EventHostPause, func(payload json.RawMessage) {
		var p protocol.PausePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			c.logger.Debug("malformed pause payload", "error", err)
			return
		}
		c.applyRemote(RemoteEvent{
			Kind:            EventPause,
			PositionSec:     p.PositionSec,
			HostTimestampMs: p.HostTimestampMs,
		})
	})

	c.transport.On(protocol.EventHostSeek, func(payload json.RawMessage) {
		var p protocol.SeekPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			c.logger.Debug("malformed seek payload", "error", err)
			return
		}
		c.applyRemote(RemoteEvent{
			Kind:            EventSeek,
			PositionSec:     p.PositionSec,
			HostTimestampMs: p.HostTimestampMs,
		})
	})

	c.transport.On(protocol.EventHostTimeSync, func(payload json.RawMessage) {
		var p protocol.TimeSyncPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			c.logger.Debug("malformed time sync payload", "error", err)
			return
		}
		c.applyRemote(RemoteEvent{
			Kind:            EventTimeSync,
			PositionSec:     p.PositionSec,
			HostTimestampMs: p.HostTimestampMs,
			IsPlaying:       p.IsPlaying,
		})
	})

	c.transport.On(protocol.EventHostSpeedChange, func(payload json.RawMessage) {
		var p protocol.SpeedChangePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			c.logger.Debug("malformed speed change payload", "error", err)
			return
		}
		c.applyRemote(RemoteEvent{
			Kind:            EventRateChange,
			HostTimestampMs: p.HostTimestampMs,
			PlaybackRate:    p.PlaybackRate,
		})
	})

	c.transport.On(protocol.EventJoined, func(payload json.RawMessage) {
		var p protocol.JoinedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			c.logger.Debug("malformed joined payload", "error", err)
			return
		}
		c.applySnapshot(p.CurrentState)
	})

	c.transport.On(protocol.EventRoomState, func(payload json.RawMessage) {
		var p protocol.RoomStatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			c.logger.Debug("malformed room state payload", "error", err)
			return
		}
		c.applySnapshot(p.CurrentState)
	})

	c.transport.On(protocol.EventHostDisconnected, func(payload json.RawMessage) {
		c.mu.Lock()
		defer c.mu.Unlock()

		// host state is unknown until reconnect or transfer; freezing beats
		// drifting apart
		if c.engine.IsPlaying() {
			c.engine.Pause()
			c.defensivePaused = true
		}
	})

	c.transport.On(protocol.EventHostReconnected, func(payload json.RawMessage) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.defensivePaused {
			c.engine.Play()
			c.defensivePaused = false
		}
	})

	c.transport.On(protocol.EventHostTransferred, func(payload json.RawMessage) {
		var p protocol.HostTransferredPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			c.logger.Debug("malformed host transferred payload", "error", err)
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		c.isHost = p.NewHostUserID == c.userID
		c.defensivePaused = false
		if c.isHost {
			c.logger.Info("promoted to host", "reason", p.Reason)
		}
	})

	c.transport.On(protocol.EventError, func(payload json.RawMessage) {
		var p protocol.ErrorPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		c.logger.Warn("server error", "code", p.Code, "message", p.Message)
	})
}

// applySnapshot treats a full room state as a heartbeat-shaped event so the
// same projection and tolerance gating applies.
func (c *Controller) applySnapshot(state protocol.PlaybackState) {
	c.applyRemote(RemoteEvent{
		Kind:            EventTimeSync,
		PositionSec:     state.PositionSec,
		HostTimestampMs: state.LastUpdateMs,
		IsPlaying:       state.IsPlaying,
	})
}

func (c *Controller) applyRemote(ev RemoteEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.applyRemoteLocked(ev)
}

func (c *Controller) applyRemoteLocked(ev RemoteEvent) {
	if c.closed {
		return
	}

	// the host's engine is where canonical state originates; a relayed event
	// or a stale snapshot after reconnect must never steer it
	if c.isHost {
		return
	}

	// stale by host clock: a newer event has already been applied
	if ev.HostTimestampMs <= c.lastAppliedEventTs {
		return
	}

	if c.isScrubbing {
		// keep only the freshest event for replay once the scrub settles
		if c.pendingRemote == nil || ev.HostTimestampMs > c.pendingRemote.HostTimestampMs {
			pending := ev
			c.pendingRemote = &pending
		}
		return
	}

	c.lastAppliedEventTs = ev.HostTimestampMs

	local := LocalState{
		PositionSec:  c.engine.Position(),
		PlaybackRate: c.engine.Rate(),
		IsPlaying:    c.engine.IsPlaying(),
	}

	decision := Reconcile(local, ev, c.clock.Now().UnixMilli(), c.rtt.CurrentMs(), c.tol)
	c.applyDecisionLocked(decision)

	if ev.Kind != EventPause {
		c.defensivePaused = false
	}
}

func (c *Controller) applyDecisionLocked(d Decision) {
	if d.SeekTo != nil {
		c.engine.Seek(*d.SeekTo)
	}
	if d.SetRate != nil {
		c.engine.SetRate(*d.SetRate)
	}
	if d.SetPlaying != nil {
		if *d.SetPlaying {
			c.engine.Play()
		} else {
			c.engine.Pause()
		}
	}
}

// Play resumes local playback. Only the host's action is broadcast; a
// follower pressing play acts locally and the next heartbeat corrects it.
func (c *Controller) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.engine.Play()
	c.defensivePaused = false

	if !c.isHost {
		return nil
	}

	return c.transport.Send(protocol.EventHostPlay, protocol.PlayPayload{
		RoomID:          c.roomID,
		PositionSec:     c.engine.Position(),
		HostTimestampMs: c.clock.Now().UnixMilli(),
		PlaybackRate:    c.engine.Rate(),
	})
}

// Pause stops local playback. A follower's pause deliberately stays local:
// it is an emergency stop, not an instruction to the room.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.engine.Pause()

	if !c.isHost {
		return nil
	}

	return c.transport.Send(protocol.EventHostPause, protocol.PausePayload{
		RoomID:          c.roomID,
		PositionSec:     c.engine.Position(),
		HostTimestampMs: c.clock.Now().UnixMilli(),
	})
}

func (c *Controller) Seek(positionSec float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.engine.Seek(positionSec)

	if !c.isHost {
		return nil
	}

	now := c.clock.Now().UnixMilli()
	c.lastAppliedEventTs = now

	return c.transport.Send(protocol.EventHostSeek, protocol.SeekPayload{
		RoomID:          c.roomID,
		PositionSec:     positionSec,
		HostTimestampMs: now,
	})
}

func (c *Controller) SetRate(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("rate must be positive")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.engine.SetRate(rate)

	if !c.isHost {
		return nil
	}

	return c.transport.Send(protocol.EventHostSpeedChange, protocol.SpeedChangePayload{
		RoomID:          c.roomID,
		PlaybackRate:    rate,
		HostTimestampMs: c.clock.Now().UnixMilli(),
	})
}

// ScrubStart marks the beginning of a user drag on the seek bar. Incoming
// events are buffered, not applied, so the room cannot fight the gesture.
func (c *Controller) ScrubStart() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isScrubbing = true
	if c.scrubTimer != nil {
		c.scrubTimer.Stop()
		c.scrubTimer = nil
	}
}

// ScrubEnd seeks the engine to the chosen position and, after the grace
// window, emits exactly one outgoing seek (host) or replays the freshest
// buffered remote event (follower). The grace window exists because an
// in-flight stale event arriving right after the drag would otherwise undo
// the user's seek.
func (c *Controller) ScrubEnd(positionSec float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isScrubbing {
		return
	}

	c.engine.Seek(positionSec)

	if c.scrubTimer != nil {
		c.scrubTimer.Stop()
	}
	c.scrubTimer = c.clock.AfterFunc(c.scrubGrace, func() {
		c.finishScrub(positionSec)
	})
}

func (c *Controller) finishScrub(positionSec float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.isScrubbing {
		return
	}

	c.isScrubbing = false
	c.scrubTimer = nil
	pending := c.pendingRemote
	c.pendingRemote = nil

	if c.isHost {
		// the user's seek supersedes anything buffered during the drag
		now := c.clock.Now().UnixMilli()
		c.lastAppliedEventTs = now

		if err := c.transport.Send(protocol.EventHostSeek, protocol.SeekPayload{
			RoomID:          c.roomID,
			PositionSec:     positionSec,
			HostTimestampMs: now,
		}); err != nil {
			c.logger.Warn("failed to send seek after scrub", "error", err)
		}
		return
	}

	if pending != nil {
		c.applyRemoteLocked(*pending)
	}
}

// heartbeatLoop emits hostTimeSync on a fixed cadence while this client is
// the host and playing. Followers run the loop too but never emit; host
// transfer flips a flag instead of managing goroutine lifetimes.
func (c *Controller) heartbeatLoop() {
	ticker := c.clock.NewTicker(c.heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.Chan():
			c.emitHeartbeat()
		}
	}
}

func (c *Controller) emitHeartbeat() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.isHost || c.isScrubbing || !c.engine.IsPlaying() {
		return
	}

	if err := c.transport.Send(protocol.EventHostTimeSync, protocol.TimeSyncPayload{
		RoomID:          c.roomID,
		PositionSec:     c.engine.Position(),
		HostTimestampMs: c.clock.Now().UnixMilli(),
		IsPlaying:       true,
	}); err != nil {
		c.logger.Debug("failed to send heartbeat", "error", err)
	}
}

// IsHost reports whether this client currently holds the host role.
func (c *Controller) IsHost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.isHost
}

// Leave tells the server this participant is going away and tears the
// controller down.
func (c *Controller) Leave() error {
	if err := c.transport.Send(protocol.EventLeaveRoom, protocol.LeaveRoomPayload{
		RoomID: c.roomID,
	}); err != nil {
		c.logger.Debug("failed to send leave", "error", err)
	}

	return c.Close()
}

// Close cancels the heartbeat loop, the RTT probe and the transport.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	if c.scrubTimer != nil {
		c.scrubTimer.Stop()
		c.scrubTimer = nil
	}
	c.mu.Unlock()

	c.stopOnce.Do(func() {
		close(c.stop)
	})
	c.rtt.Stop()

	return c.transport.Close()
}
