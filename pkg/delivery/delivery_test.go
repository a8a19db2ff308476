package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnaproject/dna-core/pkg/dhtfacade/memdht"
	"github.com/dnaproject/dna-core/pkg/handlers"
	"github.com/dnaproject/dna-core/pkg/store"
	"github.com/dnaproject/dna-core/pkg/types"
)

// fakeSender lets each test script exactly one Resend outcome per
// message ID without needing a real Crypto suite or profile cache.
type fakeSender struct {
	results map[string]int
	errs    map[string]error
	calls   map[string]int
}

func newFakeSender() *fakeSender {
	return &fakeSender{results: map[string]int{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeSender) Resend(m *types.OutgoingMessage) (int, error) {
	f.calls[m.ID]++
	return f.results[m.ID], f.errs[m.ID]
}

func newTestEngine(t *testing.T) (*Engine, *memdht.Facade, store.Store, *fakeSender) {
	t.Helper()
	facade := memdht.New()
	facade.SetReady(true)
	st, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	sender := newFakeSender()
	e := NewEngine(st, facade, sender)
	return e, facade, st, sender
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	assert.Equal(t, 30*time.Second, backoff(0))
	assert.Equal(t, 60*time.Second, backoff(1))
	assert.Equal(t, 120*time.Second, backoff(2))
	// By retry count 10 the doubling schedule would exceed an hour.
	assert.Equal(t, time.Hour, backoff(10))
}

func TestRetryDueSkipsWhenNotReady(t *testing.T) {
	e, facade, st, sender := newTestEngine(t)
	facade.SetReady(false)

	msg := &types.OutgoingMessage{ID: "m1", Recipient: "c1", Status: types.MessagePending, CreatedAt: time.Now()}
	require.NoError(t, st.SaveMessage(msg))

	e.RetryDue(time.Now())

	assert.Equal(t, 0, sender.calls["m1"])
	got, err := st.GetMessage("m1")
	require.NoError(t, err)
	assert.Equal(t, types.MessagePending, got.Status)
}

func TestRetryDueMarksStaleMessagesFailed(t *testing.T) {
	e, _, st, sender := newTestEngine(t)

	old := &types.OutgoingMessage{ID: "m1", Recipient: "c1", Status: types.MessagePending, CreatedAt: time.Now().Add(-31 * 24 * time.Hour)}
	require.NoError(t, st.SaveMessage(old))

	e.RetryDue(time.Now())

	assert.Equal(t, 0, sender.calls["m1"])
	got, err := st.GetMessage("m1")
	require.NoError(t, err)
	assert.Equal(t, types.MessageFailed, got.Status)
}

func TestRetryDueSkipsMessagesNotYetReady(t *testing.T) {
	e, _, st, sender := newTestEngine(t)

	msg := &types.OutgoingMessage{ID: "m1", Recipient: "c1", Status: types.MessagePending, RetryCount: 1, CreatedAt: time.Now()}
	require.NoError(t, st.SaveMessage(msg))

	e.RetryDue(time.Now())

	assert.Equal(t, 0, sender.calls["m1"])
}

func TestRetryDueMarksSentOnQueuedOrDuplicate(t *testing.T) {
	e, _, st, sender := newTestEngine(t)

	msg := &types.OutgoingMessage{ID: "m1", Recipient: "c1", Status: types.MessagePending, CreatedAt: time.Now().Add(-time.Minute)}
	require.NoError(t, st.SaveMessage(msg))
	sender.results["m1"] = handlers.ResendQueued
	dup := &types.OutgoingMessage{ID: "m2", Recipient: "c1", Status: types.MessagePending, CreatedAt: time.Now().Add(-time.Minute)}
	require.NoError(t, st.SaveMessage(dup))
	sender.results["m2"] = handlers.ResendDuplicate

	e.RetryDue(time.Now())

	got, err := st.GetMessage("m1")
	require.NoError(t, err)
	assert.Equal(t, types.MessageSent, got.Status)
	assert.Equal(t, 0, got.RetryCount)

	got, err = st.GetMessage("m2")
	require.NoError(t, err)
	assert.Equal(t, types.MessageSent, got.Status)
	assert.Equal(t, 0, got.RetryCount)
}

func TestRetryDueLeavesRetryCountOnKeyUnavailable(t *testing.T) {
	e, _, st, sender := newTestEngine(t)

	msg := &types.OutgoingMessage{ID: "m1", Recipient: "c1", Status: types.MessageSent, RetryCount: 2, CreatedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, st.SaveMessage(msg))
	sender.results["m1"] = handlers.ResendKeyUnavailable

	e.RetryDue(time.Now())

	got, err := st.GetMessage("m1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, types.MessageSent, got.Status)
}

func TestRetryDueIncrementsRetryCountOnOtherFailure(t *testing.T) {
	e, _, st, sender := newTestEngine(t)

	msg := &types.OutgoingMessage{ID: "m1", Recipient: "c1", Status: types.MessageSent, RetryCount: 0, CreatedAt: time.Now().Add(-time.Minute)}
	require.NoError(t, st.SaveMessage(msg))
	sender.results["m1"] = handlers.ResendFailed

	e.RetryDue(time.Now())

	got, err := st.GetMessage("m1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, types.MessageSent, got.Status)
}

func TestStartStop(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	e.Start()
	time.Sleep(10 * time.Millisecond)
	e.Stop()
}
