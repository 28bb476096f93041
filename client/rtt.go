package client

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchsync/couchsync/pkg/protocol"
)

const (
	rttProbePeriod = 5 * time.Second
	rttAlpha       = 0.2
)

// RTTEstimator measures the round trip to the server with periodic pings and
// smooths the samples with an exponentially weighted moving average. At most
// one probe is outstanding; a pong with an unknown nonce is discarded.
type RTTEstimator struct {
	send   func(msgType string, payload any) error
	clock  clockwork.Clock
	logger *slog.Logger

	mu           sync.Mutex
	ewmaMs       float64
	hasSample    bool
	pendingNonce string
	sentAtMs     int64

	stop     chan struct{}
	stopOnce sync.Once
}

func NewRTTEstimator(send func(msgType string, payload any) error, clock clockwork.Clock, logger *slog.Logger) *RTTEstimator {
	return &RTTEstimator{
		send:   send,
		clock:  clock,
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// Start launches the probe loop. It returns immediately.
func (e *RTTEstimator) Start() {
	go e.probeLoop()
}

func (e *RTTEstimator) probeLoop() {
	ticker := e.clock.NewTicker(rttProbePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.Chan():
			e.probe()
		}
	}
}

func (e *RTTEstimator) probe() {
	e.mu.Lock()
	if e.pendingNonce != "" {
		// previous probe still in flight, the pong or a reconnect will clear it
		e.mu.Unlock()
		return
	}
	nonce := uuid.NewString()
	e.pendingNonce = nonce
	e.sentAtMs = e.clock.Now().UnixMilli()
	e.mu.Unlock()

	if err := e.send(protocol.EventPing, protocol.PingPayload{
		Nonce: nonce,
		Ts:    e.sentAtMs,
	}); err != nil {
		e.logger.Debug("failed to send ping", "error", err)
		e.mu.Lock()
		e.pendingNonce = ""
		e.mu.Unlock()
	}
}

// HandlePong feeds a pong back into the estimator.
func (e *RTTEstimator) HandlePong(payload protocol.PongPayload) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if payload.Nonce == "" || payload.Nonce != e.pendingNonce {
		return
	}
	e.pendingNonce = ""

	sample := float64(e.clock.Now().UnixMilli() - e.sentAtMs)
	if sample < 0 {
		return
	}

	if !e.hasSample {
		e.ewmaMs = sample
		e.hasSample = true
		return
	}

	e.ewmaMs = rttAlpha*sample + (1-rttAlpha)*e.ewmaMs
}

// CurrentMs returns the smoothed estimate, zero before the first sample.
func (e *RTTEstimator) CurrentMs() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return int64(e.ewmaMs)
}

// Reset drops the outstanding probe, for use after a reconnect where the
// pong will never arrive.
func (e *RTTEstimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pendingNonce = ""
}

func (e *RTTEstimator) Stop() {
	e.stopOnce.Do(func() {
		close(e.stop)
	})
}
