package listenermgr

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnaproject/dna-core/pkg/dhtfacade/memdht"
	"github.com/dnaproject/dna-core/pkg/dispatch"
	"github.com/dnaproject/dna-core/pkg/handlers"
	"github.com/dnaproject/dna-core/pkg/store"
	"github.com/dnaproject/dna-core/pkg/types"
)

type eventSink struct {
	mu     sync.Mutex
	events []types.Event
}

func (s *eventSink) record(e types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *eventSink) all() []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Event, len(s.events))
	copy(out, s.events)
	return out
}

func newTestManager(t *testing.T) (*Manager, *memdht.Facade, store.Store, *eventSink) {
	t.Helper()
	facade := memdht.New()
	st, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	disp := dispatch.New()
	sink := &eventSink{}
	disp.Register(sink.record)

	m := NewManager(facade, st, disp)
	m.Bind("self-fp")
	return m, facade, st, sink
}

func TestStartForContactIsIdempotent(t *testing.T) {
	m, facade, _, _ := newTestManager(t)

	require.NoError(t, m.StartForContact("contact-a"))
	d1, ok := m.outbox.get("contact-a")
	require.True(t, ok)

	require.NoError(t, m.StartForContact("contact-a"))
	d2, ok := m.outbox.get("contact-a")
	require.True(t, ok)

	assert.Equal(t, d1.Token, d2.Token)
	assert.Equal(t, 1, m.outbox.count())
	assert.True(t, facade.IsListenerActive(d2.Token))
}

func TestCancelForContactReleasesAllThree(t *testing.T) {
	m, facade, _, _ := newTestManager(t)

	require.NoError(t, m.StartForContact("contact-a"))
	ob, _ := m.outbox.get("contact-a")
	pr, _ := m.presence.get("contact-a")
	ak, _ := m.ack.get("contact-a")

	require.NoError(t, m.CancelForContact("contact-a"))

	_, ok := m.outbox.get("contact-a")
	assert.False(t, ok)
	_, ok = m.presence.get("contact-a")
	assert.False(t, ok)
	_, ok = m.ack.get("contact-a")
	assert.False(t, ok)

	assert.False(t, facade.IsListenerActive(ob.Token))
	assert.False(t, facade.IsListenerActive(pr.Token))
	assert.False(t, facade.IsListenerActive(ak.Token))
}

func TestDayBucketRotation(t *testing.T) {
	m, facade, _, _ := newTestManager(t)

	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	require.NoError(t, m.StartForContact("contact-a"))
	oldDescriptor, ok := m.outbox.get("contact-a")
	require.True(t, ok)
	oldToken := oldDescriptor.Token
	oldBucket := oldDescriptor.DayBucket

	m.rotations.remove("contact-a")
	m.rotations.schedule("contact-a", oldBucket, now.Add(-time.Minute))

	rotateAt := now.Add(24 * time.Hour)
	m.Heartbeat(rotateAt)

	assert.False(t, facade.IsListenerActive(oldToken))
	newDescriptor, ok := m.outbox.get("contact-a")
	require.True(t, ok)
	assert.NotEqual(t, oldBucket, newDescriptor.DayBucket)
	assert.True(t, facade.IsListenerActive(newDescriptor.Token))
}

func TestAckAdvancesCursorAndMarksDelivered(t *testing.T) {
	m, facade, st, disp := newTestManager(t)

	msg := &types.OutgoingMessage{ID: "msg-1", Recipient: "contact-a", Status: types.MessageSent, CreatedAt: time.Now()}
	require.NoError(t, st.SaveMessage(msg))

	require.NoError(t, m.StartForContact("contact-a"))

	ackValue := []byte(time.Now().Format(time.RFC3339))
	require.NoError(t, facade.Put(context.Background(), handlers.AckKey("self-fp", "contact-a"), ackValue))

	got, err := st.GetMessage("msg-1")
	require.NoError(t, err)
	assert.Equal(t, types.MessageReceived, got.Status)

	found := false
	for _, e := range disp.all() {
		if e.Type == types.EventMessageDelivered && e.MessageID == "msg-1" {
			found = true
		}
	}
	assert.True(t, found)

	// An older or equal ack timestamp must not re-fire delivery handling.
	olderValue := []byte(time.Now().Add(-time.Hour).Format(time.RFC3339))
	require.NoError(t, facade.Put(context.Background(), handlers.AckKey("self-fp", "contact-a"), olderValue))
	count := 0
	for _, e := range disp.all() {
		if e.Type == types.EventMessageDelivered {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestContactRequestListenerEmitsEvent(t *testing.T) {
	m, facade, _, disp := newTestManager(t)
	require.NoError(t, m.StartContactRequestListener())

	reqs := []*handlers.ContactRequest{{FromFingerprint: "sender-fp", Message: "hi"}}
	data, err := json.Marshal(reqs)
	require.NoError(t, err)
	require.NoError(t, facade.Put(context.Background(), handlers.ContactRequestInboxKey("self-fp"), data))

	var got *types.Event
	for _, e := range disp.all() {
		if e.Type == types.EventContactRequestReceived {
			e := e
			got = &e
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, "sender-fp", got.Fingerprint)
}

// fakeReceiver is a minimal MessageReceiver: it records every delivery and
// lets a test control whether ReceiveWire reports the message as new.
type fakeReceiver struct {
	mu       sync.Mutex
	received []string
	saved    bool
	err      error
}

func (f *fakeReceiver) ReceiveWire(senderFingerprint string, raw []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, senderFingerprint)
	return f.saved, f.err
}

func TestOutboxListenerDispatchesThroughReceiver(t *testing.T) {
	m, facade, _, disp := newTestManager(t)
	recv := &fakeReceiver{saved: true}
	m.SetReceiver(recv)

	require.NoError(t, m.StartForContact("contact-a"))
	dayBucket := currentDayBucket(time.Now())
	require.NoError(t, facade.Put(context.Background(), handlers.OutboxKey("self-fp", "contact-a", dayBucket), []byte("wire-bytes")))

	recv.mu.Lock()
	gotCalls := append([]string(nil), recv.received...)
	recv.mu.Unlock()
	assert.Equal(t, []string{"contact-a"}, gotCalls)

	found := false
	for _, e := range disp.all() {
		if e.Type == types.EventOutboxUpdated && e.Recipient == "contact-a" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestOutboxListenerSkipsEventWhenReceiverDidNotSave(t *testing.T) {
	m, facade, _, disp := newTestManager(t)
	recv := &fakeReceiver{saved: false}
	m.SetReceiver(recv)

	require.NoError(t, m.StartForContact("contact-a"))
	dayBucket := currentDayBucket(time.Now())
	require.NoError(t, facade.Put(context.Background(), handlers.OutboxKey("self-fp", "contact-a", dayBucket), []byte("wire-bytes")))

	for _, e := range disp.all() {
		assert.NotEqual(t, types.EventOutboxUpdated, e.Type)
	}
}

func TestListenAllContactsFansOutInParallel(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	fingerprints := []string{"c1", "c2", "c3", "c4"}

	count, err := m.ListenAllContacts(context.Background(), fingerprints)
	require.NoError(t, err)
	assert.Equal(t, len(fingerprints), count)
	assert.Equal(t, len(fingerprints), m.ActiveContactCount())
}
