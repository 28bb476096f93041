package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcilePlayProjection(t *testing.T) {
	local := LocalState{PositionSec: 0, PlaybackRate: 1.0, IsPlaying: false}
	remote := RemoteEvent{
		Kind:            EventPlay,
		PositionSec:     10.0,
		HostTimestampMs: 1_000_000,
		PlaybackRate:    1.0,
	}

	// applied 2000ms after the host observed 10.0s
	d := Reconcile(local, remote, 1_002_000, 0, DefaultTolerances())
	require.NotNil(t, d.SeekTo)
	assert.InDelta(t, 12.0, *d.SeekTo, 0.001)
	require.NotNil(t, d.SetPlaying)
	assert.True(t, *d.SetPlaying)
}

func TestReconcileProjectionAddsHalfRTT(t *testing.T) {
	local := LocalState{PlaybackRate: 1.0}
	remote := RemoteEvent{
		Kind:            EventPlay,
		PositionSec:     10.0,
		HostTimestampMs: 1_000_000,
		PlaybackRate:    1.0,
	}

	d := Reconcile(local, remote, 1_002_000, 200, DefaultTolerances())
	require.NotNil(t, d.SeekTo)
	assert.InDelta(t, 12.1, *d.SeekTo, 0.001)
}

func TestReconcileProjectionScalesWithRate(t *testing.T) {
	local := LocalState{PlaybackRate: 1.0}
	remote := RemoteEvent{
		Kind:            EventPlay,
		PositionSec:     10.0,
		HostTimestampMs: 1_000_000,
		PlaybackRate:    2.0,
	}

	d := Reconcile(local, remote, 1_001_000, 0, DefaultTolerances())
	require.NotNil(t, d.SeekTo)
	assert.InDelta(t, 12.0, *d.SeekTo, 0.001)
	require.NotNil(t, d.SetRate)
	assert.Equal(t, 2.0, *d.SetRate)
}

func TestReconcilePlayWithinToleranceSkipsSeek(t *testing.T) {
	local := LocalState{PositionSec: 11.5, PlaybackRate: 1.0}
	remote := RemoteEvent{
		Kind:            EventPlay,
		PositionSec:     10.0,
		HostTimestampMs: 1_000_000,
		PlaybackRate:    1.0,
	}

	d := Reconcile(local, remote, 1_002_000, 0, DefaultTolerances())
	assert.Nil(t, d.SeekTo, "drift under threshold must not seek")
	require.NotNil(t, d.SetPlaying)
	assert.True(t, *d.SetPlaying)
}

func TestReconcilePauseSeeksExactly(t *testing.T) {
	local := LocalState{PositionSec: 33.0, PlaybackRate: 1.0, IsPlaying: true}
	remote := RemoteEvent{
		Kind:            EventPause,
		PositionSec:     30.0,
		HostTimestampMs: 1_000_000,
	}

	// pause carries an exact position, no projection even with elapsed time
	d := Reconcile(local, remote, 1_005_000, 300, DefaultTolerances())
	require.NotNil(t, d.SeekTo)
	assert.Equal(t, 30.0, *d.SeekTo)
	require.NotNil(t, d.SetPlaying)
	assert.False(t, *d.SetPlaying)
}

func TestReconcileHeartbeatToleranceBand(t *testing.T) {
	tol := DefaultTolerances()

	// small drift: leave the position alone
	local := LocalState{PositionSec: 20.5, PlaybackRate: 1.0, IsPlaying: true}
	remote := RemoteEvent{
		Kind:            EventTimeSync,
		PositionSec:     20.0,
		HostTimestampMs: 1_000_000,
		IsPlaying:       true,
	}
	d := Reconcile(local, remote, 1_000_000, 0, tol)
	assert.Nil(t, d.SeekTo)
	assert.Nil(t, d.SetPlaying)

	// large drift: correct it with a projected seek
	local.PositionSec = 5.0
	d = Reconcile(local, remote, 1_001_000, 0, tol)
	require.NotNil(t, d.SeekTo)
	assert.InDelta(t, 21.0, *d.SeekTo, 0.001)
}

func TestReconcileHeartbeatOverridesLocalPause(t *testing.T) {
	local := LocalState{PositionSec: 20.0, PlaybackRate: 1.0, IsPlaying: false}
	remote := RemoteEvent{
		Kind:            EventTimeSync,
		PositionSec:     20.0,
		HostTimestampMs: 1_000_000,
		IsPlaying:       true,
	}

	d := Reconcile(local, remote, 1_000_000, 0, DefaultTolerances())
	require.NotNil(t, d.SetPlaying)
	assert.True(t, *d.SetPlaying, "a follower's local pause yields to the host heartbeat")
}

func TestReconcileRateChangeNeverSeeks(t *testing.T) {
	local := LocalState{PositionSec: 100.0, PlaybackRate: 1.0, IsPlaying: true}
	remote := RemoteEvent{
		Kind:            EventRateChange,
		HostTimestampMs: 1_000_000,
		PlaybackRate:    1.5,
	}

	d := Reconcile(local, remote, 1_010_000, 500, DefaultTolerances())
	assert.Nil(t, d.SeekTo, "rate change must not move the position")
	require.NotNil(t, d.SetRate)
	assert.Equal(t, 1.5, *d.SetRate)
}
