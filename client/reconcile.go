package client

import "math"

type EventKind int

const (
	EventPlay EventKind = iota
	EventPause
	EventSeek
	EventTimeSync
	EventRateChange
)

// RemoteEvent is a host-originated playback instruction after decoding.
// PlaybackRate is only meaningful for Play and RateChange, IsPlaying only
// for TimeSync.
type RemoteEvent struct {
	Kind            EventKind
	PositionSec     float64
	HostTimestampMs int64
	PlaybackRate    float64
	IsPlaying       bool
}

type LocalState struct {
	PositionSec  float64
	PlaybackRate float64
	IsPlaying    bool
}

// Tolerances gate hard seeks. Below threshold the position is left alone and
// drift is absorbed; the exact values are tunable per deployment.
type Tolerances struct {
	SeekThresholdSec  float64
	HeartbeatDriftSec float64
}

func DefaultTolerances() Tolerances {
	return Tolerances{
		SeekThresholdSec:  1.0,
		HeartbeatDriftSec: 1.0,
	}
}

// Decision is what Reconcile wants done to the local engine. Nil fields mean
// leave that aspect untouched.
type Decision struct {
	SeekTo     *float64
	SetPlaying *bool
	SetRate    *float64
}

// Reconcile maps one incoming event onto local engine actions. It is pure:
// no clock, no network, no engine access. The caller supplies its own wall
// clock reading and the current RTT estimate.
//
// For events describing running playback the target position is projected
// forward by the time elapsed since the host observed it, plus half the
// round trip for the transit delay:
//
//	target = pos + max(0, now - hostTs + rtt/2)/1000 * rate
//
// Pause and Seek carry an exact position and are applied without projection.
// Heartbeats only correct position when drift exceeds the tolerance; seeking
// on every heartbeat causes visible stutter. Rate changes never move the
// position.
func Reconcile(local LocalState, remote RemoteEvent, nowMs, rttMs int64, tol Tolerances) Decision {
	var d Decision

	switch remote.Kind {
	case EventPlay:
		target := project(remote.PositionSec, remote.HostTimestampMs, nowMs, rttMs, remote.PlaybackRate)
		if math.Abs(local.PositionSec-target) > tol.SeekThresholdSec {
			d.SeekTo = &target
		}
		playing := true
		d.SetPlaying = &playing
		if remote.PlaybackRate > 0 && remote.PlaybackRate != local.PlaybackRate {
			rate := remote.PlaybackRate
			d.SetRate = &rate
		}

	case EventPause:
		pos := remote.PositionSec
		d.SeekTo = &pos
		playing := false
		d.SetPlaying = &playing

	case EventSeek:
		pos := remote.PositionSec
		d.SeekTo = &pos

	case EventTimeSync:
		target := remote.PositionSec
		if remote.IsPlaying {
			target = project(remote.PositionSec, remote.HostTimestampMs, nowMs, rttMs, local.PlaybackRate)
		}
		if math.Abs(local.PositionSec-target) > tol.HeartbeatDriftSec {
			d.SeekTo = &target
		}
		if local.IsPlaying != remote.IsPlaying {
			playing := remote.IsPlaying
			d.SetPlaying = &playing
		}

	case EventRateChange:
		if remote.PlaybackRate > 0 {
			rate := remote.PlaybackRate
			d.SetRate = &rate
		}
	}

	return d
}

func project(positionSec float64, hostTsMs, nowMs, rttMs int64, rate float64) float64 {
	if rate <= 0 {
		rate = 1.0
	}

	elapsedMs := nowMs - hostTsMs + rttMs/2
	if elapsedMs < 0 {
		elapsedMs = 0
	}

	return positionSec + float64(elapsedMs)/1000.0*rate
}
