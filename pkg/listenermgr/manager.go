package listenermgr

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/dnaproject/dna-core/pkg/apperr"
	"github.com/dnaproject/dna-core/pkg/dhtfacade"
	"github.com/dnaproject/dna-core/pkg/dispatch"
	"github.com/dnaproject/dna-core/pkg/handlers"
	"github.com/dnaproject/dna-core/pkg/log"
	"github.com/dnaproject/dna-core/pkg/metrics"
	"github.com/dnaproject/dna-core/pkg/store"
	"github.com/dnaproject/dna-core/pkg/types"
)

// Capacity ceilings per listener class. spec.md §4.7 requires a fixed
// maximum per class but leaves the number unspecified; these bound a
// single process's listener set well above any realistic contact list
// while still rejecting a runaway caller instead of growing unbounded.
const (
	maxOutboxListeners         = 8192
	maxPresenceListeners       = 8192
	maxAckListeners            = 8192
	maxContactRequestListeners = 1
)

// Manager owns the four listener-class registries for one loaded
// identity (spec.md §4.7) and the day-bucket rotation schedule for
// outbox listeners. It implements handlers.StartContactListeners so
// pkg/handlers.Contacts can start/cancel a contact's listener trio
// without importing this package directly.
type Manager struct {
	facade dhtfacade.Facade
	store  store.Store
	disp   *dispatch.Dispatcher
	self   string

	outbox         *registry
	presence       *registry
	contactRequest *registry
	ack            *registry

	rotations *rotationSchedule

	lastACKMu sync.Mutex
	lastACK   map[string]time.Time

	receiver MessageReceiver

	listenersStarting singleflight.Group
}

// MessageReceiver decrypts and persists a wire message delivered to an
// outbox listener. *handlers.Messaging satisfies this; defined here rather
// than imported to avoid a handlers<->listenermgr import cycle (mirrors
// handlers.StartContactListeners, the reverse-direction narrow interface).
type MessageReceiver interface {
	ReceiveWire(senderFingerprint string, raw []byte) (bool, error)
}

// SetReceiver wires the handler that turns a raw outbox delivery into a
// decrypted, saved incoming message. Called once from engine construction,
// after both the Manager and the Messaging handler exist.
func (m *Manager) SetReceiver(r MessageReceiver) { m.receiver = r }

// NewManager builds a Manager with empty registries. Bind must be called
// with the loaded identity's fingerprint before any Start* method.
func NewManager(facade dhtfacade.Facade, st store.Store, disp *dispatch.Dispatcher) *Manager {
	return &Manager{
		facade:         facade,
		store:          st,
		disp:           disp,
		outbox:         newRegistry(types.ListenerOutbox, maxOutboxListeners),
		presence:       newRegistry(types.ListenerPresence, maxPresenceListeners),
		contactRequest: newRegistry(types.ListenerContactRequest, maxContactRequestListeners),
		ack:            newRegistry(types.ListenerACK, maxAckListeners),
		rotations:      newRotationSchedule(),
		lastACK:        make(map[string]time.Time),
	}
}

// Bind records the fingerprint of the identity whose listeners this
// manager now owns, set once by the Lifecycle Controller on load_identity.
func (m *Manager) Bind(selfFingerprint string) { m.self = selfFingerprint }

// start runs the three-phase lock-order pattern spec.md §4.7 prescribes
// for every listener class, not only ACK: check duplicates/capacity
// under the registry mutex and release it, call the facade with no
// manager mutex held, then re-acquire it to record the descriptor or
// discard a now-redundant subscription lost to a concurrent winner.
func (m *Manager) start(r *registry, keyID string, key []byte, onValue dhtfacade.ValueCallback, extra func(*types.ListenerDescriptor)) (string, error) {
	if token, err := r.beginStart(keyID, m.facade); err != nil {
		return "", err
	} else if token != "" {
		return token, nil
	}

	var tokenHolder atomic.Value
	token, err := m.facade.Listen(key, onValue, func() {
		if t, ok := tokenHolder.Load().(string); ok {
			r.markInactiveIfToken(keyID, t)
		}
	})
	if err != nil {
		return "", apperr.Wrap(apperr.Network, "listen", err)
	}
	tokenHolder.Store(token)

	if ok := r.commitStart(keyID, token, extra); !ok {
		_ = m.facade.CancelListen(token)
		if d, found := r.get(keyID); found {
			return d.Token, nil
		}
		return "", apperr.New(apperr.Internal, "listener registration race")
	}
	return token, nil
}

func (m *Manager) cancel(r *registry, keyID string) error {
	d, ok := r.get(keyID)
	if !ok {
		return nil
	}
	if d.Active {
		if err := m.facade.CancelListen(d.Token); err != nil {
			return apperr.Wrap(apperr.Network, "cancel listener", err)
		}
	}
	r.remove(keyID)
	return nil
}

// startOutbox subscribes to the DM outbox the given contact publishes
// into, addressed to us (spec.md §6: OutboxKey(recipient=self,
// sender=contact, dayBucket)).
func (m *Manager) startOutbox(fingerprint string, dayBucket int) (string, error) {
	key := handlers.OutboxKey(m.self, fingerprint, dayBucket)
	return m.start(m.outbox, fingerprint, key, m.outboxValue(fingerprint), func(d *types.ListenerDescriptor) {
		d.DayBucket = dayBucket
	})
}

func (m *Manager) startPresence(fingerprint string) (string, error) {
	return m.start(m.presence, fingerprint, handlers.PresenceKey(fingerprint), m.presenceValue(fingerprint), nil)
}

// startAck subscribes to the slot contact publishes its acks of our
// messages into (spec.md §6: AckKey(recipient=self, sender=contact)).
func (m *Manager) startAck(fingerprint string) (string, error) {
	return m.start(m.ack, fingerprint, handlers.AckKey(m.self, fingerprint), m.ackValue(fingerprint), nil)
}

// StartForContact installs the outbox+presence+ack trio for one contact
// and schedules its first day-bucket rotation. Satisfies
// handlers.StartContactListeners.
func (m *Manager) StartForContact(fingerprint string) error {
	now := time.Now()
	bucket := currentDayBucket(now)
	if _, err := m.startOutbox(fingerprint, bucket); err != nil {
		return err
	}
	m.rotations.schedule(fingerprint, bucket, nextMidnightUTC(now))
	if _, err := m.startPresence(fingerprint); err != nil {
		return err
	}
	if _, err := m.startAck(fingerprint); err != nil {
		return err
	}
	return nil
}

// CancelForContact tears down one contact's listener trio. Satisfies
// handlers.StartContactListeners.
func (m *Manager) CancelForContact(fingerprint string) error {
	m.rotations.remove(fingerprint)
	var errs []error
	if err := m.cancel(m.outbox, fingerprint); err != nil {
		errs = append(errs, err)
	}
	if err := m.cancel(m.presence, fingerprint); err != nil {
		errs = append(errs, err)
	}
	if err := m.cancel(m.ack, fingerprint); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return apperr.Wrap(apperr.Internal, "cancel contact listeners", errors.Join(errs...))
	}
	return nil
}

// StartContactRequestListener installs the single self-scoped listener
// on the contact-request inbox. Idempotent like every other class.
func (m *Manager) StartContactRequestListener() error {
	_, err := m.start(m.contactRequest, m.self, handlers.ContactRequestInboxKey(m.self), m.contactRequestValue(), nil)
	return err
}

func (m *Manager) CancelContactRequestListener() error {
	return m.cancel(m.contactRequest, m.self)
}

// ListenAllContacts installs listener trios for every given fingerprint
// in parallel. A second concurrent caller shares the first caller's
// result instead of starting its own fan-out (spec.md §4.7
// listeners_starting flag); if the first caller has not finished within
// 5 seconds, later callers give up waiting and report the listener
// count as it stands rather than blocking indefinitely.
func (m *Manager) ListenAllContacts(ctx context.Context, fingerprints []string) (count int, err error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ListenerFanoutDuration)

	ch := m.listenersStarting.DoChan("listen_all_contacts", func() (any, error) {
		var g errgroup.Group
		for _, fp := range fingerprints {
			fp := fp
			g.Go(func() error { return m.StartForContact(fp) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return m.outbox.count(), nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return m.outbox.count(), res.Err
		}
		return res.Val.(int), nil
	case <-ctx.Done():
		return m.outbox.count(), ctx.Err()
	case <-time.After(5 * time.Second):
		return m.outbox.count(), nil
	}
}

// Heartbeat drains every day-bucket rotation due by now, restarting the
// outbox listener for each under the new bucket (spec.md §4.7 Day-bucket
// rotation; spec.md §9's redesign note replacing the heartbeat sweep
// with this time-indexed min-heap).
func (m *Manager) Heartbeat(now time.Time) {
	logger := log.WithComponent("listenermgr")
	for _, e := range m.rotations.due(now) {
		newBucket := currentDayBucket(now)
		if err := m.cancel(m.outbox, e.fingerprint); err != nil {
			logger.Warn().Err(err).Str("fingerprint", e.fingerprint).Msg("day bucket rotation: cancel failed")
		}
		if _, err := m.startOutbox(e.fingerprint, newBucket); err != nil {
			logger.Warn().Err(err).Str("fingerprint", e.fingerprint).Msg("day bucket rotation: restart failed")
			continue
		}
		m.rotations.schedule(e.fingerprint, newBucket, nextMidnightUTC(now))
	}
}

// CancelAll tears down every listener this manager owns, used on
// identity unload and on pause (spec.md §4.10).
func (m *Manager) CancelAll() {
	for _, fp := range m.outbox.keys() {
		_ = m.cancel(m.outbox, fp)
	}
	for _, fp := range m.presence.keys() {
		_ = m.cancel(m.presence, fp)
	}
	for _, fp := range m.ack.keys() {
		_ = m.cancel(m.ack, fp)
	}
	_ = m.cancel(m.contactRequest, m.self)
	m.rotations = newRotationSchedule()
}

// ActiveContactCount reports how many contacts currently have a live
// outbox listener.
func (m *Manager) ActiveContactCount() int { return m.outbox.count() }

// outboxValue decrypts and saves a fresh DM delivery from contactFingerprint
// via the bound MessageReceiver, then emits OUTBOX_UPDATED. Expired
// deliveries are ignored on the outbox class (spec.md §4.7 Callback
// semantics); a delivery the receiver has already saved (replayed or
// re-delivered by the facade) does not re-emit the event.
func (m *Manager) outboxValue(contactFingerprint string) dhtfacade.ValueCallback {
	return func(value []byte, expired bool) bool {
		if expired {
			return true
		}
		saved := true
		if m.receiver != nil {
			var err error
			saved, err = m.receiver.ReceiveWire(contactFingerprint, value)
			if err != nil {
				log.WithComponent("listenermgr").Warn().Err(err).
					Str("fingerprint", contactFingerprint).Msg("outbox delivery: receive failed")
				return true
			}
		}
		if saved && m.disp != nil {
			m.disp.Dispatch(types.Event{
				Type:      types.EventOutboxUpdated,
				Timestamp: time.Now(),
				Recipient: contactFingerprint,
			})
		}
		return true
	}
}

// presenceValue updates the presence cache on every delivery. An expired
// delivery marks the contact offline by clearing LastSeen (spec.md §4.7:
// "expired deliveries update presence (offline on presence listener...)").
func (m *Manager) presenceValue(contactFingerprint string) dhtfacade.ValueCallback {
	return func(_ []byte, expired bool) bool {
		rec := &types.PresenceRecord{Fingerprint: contactFingerprint}
		if !expired {
			rec.LastSeen = time.Now()
		}
		_ = m.store.PutPresence(rec)
		return true
	}
}

// ackValue advances the per-contact ACK cursor and, on a strictly newer
// timestamp, marks every pending/sent message to that contact RECEIVED
// and emits MESSAGE_DELIVERED (spec.md §4.7 ACK cursor semantics).
func (m *Manager) ackValue(contactFingerprint string) dhtfacade.ValueCallback {
	return func(value []byte, expired bool) bool {
		if expired {
			return true
		}
		ts, err := time.Parse(time.RFC3339, string(value))
		if err != nil {
			return true
		}
		m.lastACKMu.Lock()
		prev, ok := m.lastACK[contactFingerprint]
		if ok && !ts.After(prev) {
			m.lastACKMu.Unlock()
			return true
		}
		m.lastACK[contactFingerprint] = ts
		m.lastACKMu.Unlock()

		m.markDelivered(contactFingerprint)
		return true
	}
}

func (m *Manager) markDelivered(contactFingerprint string) {
	msgs, err := m.store.ListConversation(contactFingerprint)
	if err != nil {
		return
	}
	for _, msg := range msgs {
		if msg.Status != types.MessagePending && msg.Status != types.MessageSent {
			continue
		}
		if err := m.store.UpdateMessageStatus(msg.ID, types.MessageReceived, msg.RetryCount); err != nil {
			continue
		}
		if m.disp != nil {
			m.disp.Dispatch(types.Event{
				Type:      types.EventMessageDelivered,
				Timestamp: time.Now(),
				MessageID: msg.ID,
				NewStatus: types.MessageReceived,
				Recipient: contactFingerprint,
			})
		}
	}
}

// contactRequestValue emits CONTACT_REQUEST_RECEIVED carrying the most
// recently appended request's sender, best-effort: the inbox value is
// the full current request list, not a single delta.
func (m *Manager) contactRequestValue() dhtfacade.ValueCallback {
	return func(value []byte, expired bool) bool {
		if expired {
			return true
		}
		var reqs []*handlers.ContactRequest
		from := ""
		if err := json.Unmarshal(value, &reqs); err == nil && len(reqs) > 0 {
			from = reqs[len(reqs)-1].FromFingerprint
		}
		if m.disp != nil {
			m.disp.Dispatch(types.Event{
				Type:        types.EventContactRequestReceived,
				Timestamp:   time.Now(),
				Fingerprint: from,
			})
		}
		return true
	}
}

var _ handlers.StartContactListeners = (*Manager)(nil)
