package delivery

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dnaproject/dna-core/pkg/dhtfacade"
	"github.com/dnaproject/dna-core/pkg/handlers"
	"github.com/dnaproject/dna-core/pkg/log"
	"github.com/dnaproject/dna-core/pkg/metrics"
	"github.com/dnaproject/dna-core/pkg/store"
	"github.com/dnaproject/dna-core/pkg/types"
)

const (
	baseBackoff    = 30 * time.Second
	maxBackoff     = time.Hour
	staleAfter     = 30 * 24 * time.Hour
	retryTickEvery = 10 * time.Second
)

// Resender is the one piece of handlers.Messaging the Delivery Engine
// needs: re-encrypt and republish an already-persisted message without
// minting a new ID. Kept as a narrow interface so tests can supply a
// fake sender instead of a full Messaging handler.
type Resender interface {
	Resend(m *types.OutgoingMessage) (int, error)
}

// Engine runs the retry cycle that makes outgoing message delivery
// bulletproof (spec.md §4.8): exponential backoff, a 30-day staleness
// cutoff, and a single mutex serializing every cycle against concurrent
// manual RetryDue calls (e.g. triggered by a just-observed presence
// change).
type Engine struct {
	store  store.Store
	facade dhtfacade.Facade
	sender Resender
	logger zerolog.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped atomic.Bool
}

func NewEngine(st store.Store, facade dhtfacade.Facade, sender Resender) *Engine {
	return &Engine{
		store:  st,
		facade: facade,
		sender: sender,
		logger: log.WithComponent("delivery"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the retry loop in its own goroutine.
func (e *Engine) Start() {
	go e.run()
}

// Stop halts the retry loop. Safe to call more than once; only the
// first call closes stopCh. The Engine is not reusable after Stop.
func (e *Engine) Stop() {
	if e.stopped.CompareAndSwap(false, true) {
		close(e.stopCh)
	}
}

func (e *Engine) run() {
	ticker := time.NewTicker(retryTickEvery)
	defer ticker.Stop()

	e.logger.Info().Msg("delivery engine started")

	for {
		select {
		case <-ticker.C:
			e.RetryDue(time.Now())
		case <-e.stopCh:
			e.logger.Info().Msg("delivery engine stopped")
			return
		}
	}
}

// backoff is the exponential schedule spec.md §4.8 names: 30s, doubling
// on every retry, capped at one hour.
func backoff(retryCount int) time.Duration {
	d := baseBackoff
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// ready reports whether enough time has elapsed since creation for this
// retry count to be attempted: now >= created_at + retry_count*backoff.
func ready(m *types.OutgoingMessage, now time.Time) bool {
	wait := time.Duration(m.RetryCount) * backoff(m.RetryCount)
	return !now.Before(m.CreatedAt.Add(wait))
}

// stale reports whether a message has outlived the 30-day delivery
// window and must be abandoned rather than retried further.
func stale(m *types.OutgoingMessage, now time.Time) bool {
	return now.Sub(m.CreatedAt) >= staleAfter
}

// RetryDue runs one retry cycle: gated on DHT readiness, serialized
// against any concurrent cycle, applying the six-step protocol to every
// Pending or Sent message (spec.md §4.8).
func (e *Engine) RetryDue(now time.Time) {
	if !e.facade.IsReady() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	metrics.RetryCyclesTotal.Inc()

	candidates, err := e.store.ListRetryCandidates()
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to list retry candidates")
		return
	}
	for _, m := range candidates {
		e.retryOne(m, now)
	}
}

// retryOne applies one message's step of the six-step protocol. Steps 1
// and 2 are pure filters; steps 3-6 turn on the Resend return code.
func (e *Engine) retryOne(m *types.OutgoingMessage, now time.Time) {
	if stale(m, now) {
		metrics.MessagesStaleTotal.Inc()
		if err := e.store.UpdateMessageStatus(m.ID, types.MessageFailed, m.RetryCount); err != nil {
			e.logger.Error().Err(err).Str("message_id", m.ID).Msg("failed to mark stale message failed")
		}
		return
	}
	if !ready(m, now) {
		return
	}

	code, err := e.sender.Resend(m)
	switch code {
	case handlers.ResendQueued, handlers.ResendDuplicate:
		metrics.MessagesRetriedTotal.WithLabelValues("sent").Inc()
		if uerr := e.store.UpdateMessageStatus(m.ID, types.MessageSent, m.RetryCount); uerr != nil {
			e.logger.Error().Err(uerr).Str("message_id", m.ID).Msg("failed to mark message sent")
		}
	case handlers.ResendKeyUnavailable:
		metrics.MessagesRetriedTotal.WithLabelValues("key_unavailable").Inc()
		e.logger.Debug().Str("message_id", m.ID).Msg("recipient key still unavailable, retry count unchanged")
	default:
		metrics.MessagesRetriedTotal.WithLabelValues("failed").Inc()
		if err != nil {
			e.logger.Warn().Err(err).Str("message_id", m.ID).Int("retry_count", m.RetryCount).Msg("resend failed, incrementing retry count")
		}
		if uerr := e.store.UpdateMessageStatus(m.ID, m.Status, m.RetryCount+1); uerr != nil {
			e.logger.Error().Err(uerr).Str("message_id", m.ID).Msg("failed to record retry count")
		}
	}
}
