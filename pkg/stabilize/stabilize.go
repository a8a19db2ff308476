package stabilize

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dnaproject/dna-core/pkg/dhtfacade"
	"github.com/dnaproject/dna-core/pkg/log"
	"github.com/dnaproject/dna-core/pkg/metrics"
)

const (
	quorumWait = 15 * time.Second
	pollEvery  = 1 * time.Second
	minNodes   = 2
)

// Syncer is the best-effort background sync spec.md §4.12 describes:
// contacts, groups, GEKs and addressbook, plus a retry of pending
// messages. Kept as a one-method interface so the Coordinator never
// needs to know about pkg/handlers or pkg/delivery directly.
type Syncer interface {
	Sync(ctx context.Context) error
}

// Coordinator gates a single in-flight stabilization attempt behind
// `running`, the atomic `stabilization_retry_running` flag spec.md §4.12
// names, generalized from the teacher's Reconciler's single-flight
// run-gating boolean.
type Coordinator struct {
	facade dhtfacade.Facade
	syncer Syncer
	logger zerolog.Logger

	running atomic.Bool
}

func New(facade dhtfacade.Facade, syncer Syncer) *Coordinator {
	return &Coordinator{
		facade: facade,
		syncer: syncer,
		logger: log.WithComponent("stabilize"),
	}
}

// Stabilize spawns a background attempt unless one is already running.
// It returns immediately; the caller does not block on the wait or the
// sync.
func (c *Coordinator) Stabilize(ctx context.Context) {
	if !c.running.CompareAndSwap(false, true) {
		c.logger.Debug().Msg("stabilization already running, skipping spawn")
		return
	}
	metrics.StabilizationRunning.Set(1)
	go func() {
		timer := metrics.NewTimer()
		defer func() {
			timer.ObserveDuration(metrics.StabilizationDuration)
			metrics.StabilizationRunning.Set(0)
			c.running.Store(false)
		}()
		if !c.waitForQuorum(ctx) {
			c.logger.Warn().Msg("dht routing table did not reach quorum within the wait window")
			return
		}
		if c.syncer == nil {
			return
		}
		if err := c.syncer.Sync(ctx); err != nil {
			c.logger.Error().Err(err).Msg("background stabilization sync failed")
		}
	}()
}

// IsRunning reports whether a stabilization attempt is currently in
// flight.
func (c *Coordinator) IsRunning() bool { return c.running.Load() }

// waitForQuorum polls NodeCount every second, up to quorumWait, for the
// routing table to reach minNodes (spec.md §4.12).
func (c *Coordinator) waitForQuorum(ctx context.Context) bool {
	if c.facade.NodeCount() >= minNodes {
		return true
	}
	deadline := time.NewTimer(quorumWait)
	defer deadline.Stop()
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return c.facade.NodeCount() >= minNodes
		case <-ticker.C:
			if c.facade.NodeCount() >= minNodes {
				return true
			}
		}
	}
}
