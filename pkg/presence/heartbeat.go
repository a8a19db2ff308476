package presence

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dnaproject/dna-core/pkg/dhtfacade"
	"github.com/dnaproject/dna-core/pkg/handlers"
	"github.com/dnaproject/dna-core/pkg/listenermgr"
	"github.com/dnaproject/dna-core/pkg/log"
	"github.com/dnaproject/dna-core/pkg/metrics"
)

const (
	refreshInterval = 240 * time.Second
	sleepSlice      = 1 * time.Second
)

// RotationDriver is the one piece of the Listener Manager the heartbeat
// needs: the day-bucket rotation check run on every wake (spec.md §4.9
// "At every wake it also invokes...DM-outbox-day-rotation checks").
type RotationDriver interface {
	Heartbeat(now time.Time)
}

// Heartbeat is the presence announce loop. active mirrors the spec's
// atomic presence_active flag; loaded mirrors "the messenger is loaded" —
// both gate whether a wake actually republishes.
type Heartbeat struct {
	facade dhtfacade.Facade
	self   string
	rotate RotationDriver
	logger zerolog.Logger

	active atomic.Bool
	loaded atomic.Bool

	stopCh  chan struct{}
	doneCh  chan struct{}
	refresh chan struct{}
}

func New(facade dhtfacade.Facade, selfFingerprint string, rotate RotationDriver) *Heartbeat {
	return &Heartbeat{
		facade:  facade,
		self:    selfFingerprint,
		rotate:  rotate,
		logger:  log.WithComponent("presence"),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		refresh: make(chan struct{}, 1),
	}
}

// SetLoaded reports whether an identity is currently loaded; an unloaded
// engine never publishes a presence record even if active is set.
func (h *Heartbeat) SetLoaded(loaded bool) { h.loaded.Store(loaded) }

// Pause clears presence_active (spec.md §4.10 pause transition).
func (h *Heartbeat) Pause() {
	h.active.Store(false)
	metrics.PresenceActive.Set(0)
}

// Resume sets presence_active and requests an immediate refresh rather
// than waiting out the remainder of the current 240s cycle (spec.md
// §4.10 resume transition).
func (h *Heartbeat) Resume() {
	h.active.Store(true)
	metrics.PresenceActive.Set(1)
	select {
	case h.refresh <- struct{}{}:
	default:
	}
}

// Start runs the heartbeat loop in its own goroutine.
func (h *Heartbeat) Start() {
	go h.run()
}

// Stop requests shutdown and waits for the loop to exit, matching the
// teacher's join-on-shutdown discipline for background loops.
func (h *Heartbeat) Stop() {
	close(h.stopCh)
	<-h.doneCh
}

func (h *Heartbeat) run() {
	defer close(h.doneCh)
	h.logger.Info().Msg("presence heartbeat started")

	for {
		if h.waitCycle() {
			h.logger.Info().Msg("presence heartbeat stopped")
			return
		}
		h.wake(time.Now())
	}
}

// waitCycle sleeps in 1-second slices totalling refreshInterval, checking
// shutdown between slices, but returns early the moment an immediate
// refresh is requested (spec.md §4.9's exact sleep shape).
func (h *Heartbeat) waitCycle() (stopped bool) {
	elapsed := time.Duration(0)
	ticker := time.NewTicker(sleepSlice)
	defer ticker.Stop()
	for elapsed < refreshInterval {
		select {
		case <-h.stopCh:
			return true
		case <-h.refresh:
			return false
		case <-ticker.C:
			elapsed += sleepSlice
		}
	}
	return false
}

// wake is one heartbeat tick: republish presence if active+loaded, then
// always run the rotation check regardless of presence_active.
func (h *Heartbeat) wake(now time.Time) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PresenceWakeDuration)

	if h.active.Load() && h.loaded.Load() {
		payload := []byte(now.UTC().Format(time.RFC3339))
		putTimer := metrics.NewTimer()
		err := h.facade.Put(context.Background(), handlers.PresenceKey(h.self), payload)
		putTimer.ObserveDurationVec(metrics.DHTPutDuration, "presence")
		if err != nil {
			h.logger.Warn().Err(err).Msg("failed to republish presence record")
		}
	}
	if h.rotate != nil {
		h.rotate.Heartbeat(now)
	}
}

var _ RotationDriver = (*listenermgr.Manager)(nil)
