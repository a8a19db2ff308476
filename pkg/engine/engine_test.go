package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnaproject/dna-core/pkg/apperr"
	"github.com/dnaproject/dna-core/pkg/dhtfacade/memdht"
	"github.com/dnaproject/dna-core/pkg/handlers"
	"github.com/dnaproject/dna-core/pkg/pqcrypto"
	"github.com/dnaproject/dna-core/pkg/store"
	"github.com/dnaproject/dna-core/pkg/types"
)

func newTestEngine(t *testing.T) (*Engine, *memdht.Facade) {
	t.Helper()
	facade := memdht.New()
	facade.SetReady(true)
	facade.SetNodeCount(2)

	st, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	e := New(Config{
		DataDir: t.TempDir(),
		DHT:     facade,
		Crypto:  pqcrypto.NewClassicalSuite(),
		Store:   st,
	})
	t.Cleanup(e.Shutdown)
	return e, facade
}

func seed(n byte) []byte {
	s := make([]byte, 32)
	for i := range s {
		s[i] = n
	}
	return s
}

func createAndLoad(t *testing.T, e *Engine, name string, minimal bool) string {
	t.Helper()
	fp, err := e.identity.Create(name, seed(1), seed(2), seed(3), "test mnemonic phrase", "")
	require.NoError(t, err)
	require.NoError(t, e.LoadIdentity(fp, "", minimal))
	return fp
}

func TestNewStartsUnloaded(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.Equal(t, types.StateUnloaded, e.State())
}

func TestLoadIdentityActivatesEngine(t *testing.T) {
	e, _ := newTestEngine(t)

	var events []types.Event
	e.OnEvent(func(ev types.Event) { events = append(events, ev) })

	fp := createAndLoad(t, e, "alice", false)

	assert.Equal(t, types.StateActive, e.State())
	assert.Equal(t, fp, e.getSelf())
	require.Len(t, events, 1)
	assert.Equal(t, types.EventIdentityLoaded, events[0].Type)
	assert.Equal(t, fp, events[0].Fingerprint)
}

func TestLoadIdentityTwiceFails(t *testing.T) {
	e, _ := newTestEngine(t)
	createAndLoad(t, e, "alice", false)

	err := e.LoadIdentity("some-other-fp", "", false)
	require.Error(t, err)
	assert.Equal(t, apperr.IdentityLocked, apperr.CodeOf(err))
}

func TestLoadIdentityMinimalSkipsBackgroundServices(t *testing.T) {
	e, _ := newTestEngine(t)
	createAndLoad(t, e, "alice", true)

	assert.Equal(t, types.StateActive, e.State())
	assert.Nil(t, e.presence, "minimal load must not start presence")
}

func TestPauseResumeRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	createAndLoad(t, e, "alice", false)

	require.NoError(t, e.Pause())
	assert.Equal(t, types.StatePaused, e.State())

	require.NoError(t, e.Resume())
	assert.Equal(t, types.StateActive, e.State())

	e.resumeWG.Wait()
}

func TestPauseWhenNotActiveFails(t *testing.T) {
	e, _ := newTestEngine(t)
	err := e.Pause()
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidParam, apperr.CodeOf(err))
}

func TestResumeWhenNotPausedFails(t *testing.T) {
	e, _ := newTestEngine(t)
	createAndLoad(t, e, "alice", false)

	err := e.Resume()
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidParam, apperr.CodeOf(err))
}

func TestNetworkChangedNoopWhenNotActive(t *testing.T) {
	e, _ := newTestEngine(t)
	// Not active yet; must not panic or spawn stabilization.
	e.NetworkChanged()
	assert.False(t, e.stabilizer.IsRunning())
}

func TestNetworkChangedRestabilizesWhenActive(t *testing.T) {
	e, _ := newTestEngine(t)
	createAndLoad(t, e, "alice", false)

	e.NetworkChanged()
	assert.Eventually(t, func() bool { return !e.stabilizer.IsRunning() }, time.Second, time.Millisecond)
}

func TestShutdownIsIdempotentAndJoinsBackgroundWork(t *testing.T) {
	e, _ := newTestEngine(t)
	createAndLoad(t, e, "alice", false)
	require.NoError(t, e.Pause())
	require.NoError(t, e.Resume())

	e.Shutdown()
	assert.Equal(t, types.StateUnloaded, e.State())

	// Registered cleanup calls Shutdown again; must not panic.
}

func TestSubmitInvokesCallbackExactlyOnceOnSuccess(t *testing.T) {
	e, _ := newTestEngine(t)
	createAndLoad(t, e, "alice", false)

	calls := 0
	done := make(chan types.Result, 1)
	e.Submit(types.TaskGetContacts, nil, nil, func(r types.Result) {
		calls++
		done <- r
	})

	select {
	case r := <-done:
		require.NoError(t, r.Err)
	case <-time.After(time.Second):
		t.Fatal("callback never invoked")
	}
	assert.Equal(t, 1, calls)
}

func TestSubmitAfterShutdownInvokesCallbackWithError(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Shutdown()

	done := make(chan types.Result, 1)
	e.Submit(types.TaskGetContacts, nil, nil, func(r types.Result) { done <- r })

	select {
	case r := <-done:
		require.Error(t, r.Err)
	case <-time.After(time.Second):
		t.Fatal("callback never invoked after shutdown")
	}
}

func TestCreateIdentityTaskRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)

	done := make(chan types.Result, 1)
	e.Submit(types.TaskCreateIdentity, CreateIdentityParams{
		Name:        "bob",
		SigningSeed: seed(4),
		EncSeed:     seed(5),
		MasterSeed:  seed(6),
		Mnemonic:    "another test mnemonic",
		Password:    "",
	}, nil, func(r types.Result) { done <- r })

	var result types.Result
	select {
	case result = <-done:
	case <-time.After(time.Second):
		t.Fatal("create identity task never completed")
	}
	require.NoError(t, result.Err)
	fp, ok := result.Value.(string)
	require.True(t, ok)
	assert.NotEmpty(t, fp)
}

func TestAddAndListContactsTaskRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	createAndLoad(t, e, "alice", false)

	// Register a name on the DHT for a second identity, then add it as a
	// contact through the task API the way a real client would.
	other, err := e.identity.Create("carol", seed(7), seed(8), seed(9), "carol mnemonic words", "")
	require.NoError(t, err)

	addDone := make(chan types.Result, 1)
	e.Submit(types.TaskAddContact, AddContactParams{Identifier: "carol"}, nil, func(r types.Result) { addDone <- r })
	select {
	case r := <-addDone:
		require.NoError(t, r.Err)
	case <-time.After(time.Second):
		t.Fatal("add contact task never completed")
	}

	listDone := make(chan types.Result, 1)
	e.Submit(types.TaskGetContacts, nil, nil, func(r types.Result) { listDone <- r })
	var listResult types.Result
	select {
	case listResult = <-listDone:
	case <-time.After(time.Second):
		t.Fatal("get contacts task never completed")
	}
	require.NoError(t, listResult.Err)
	contacts, ok := listResult.Value.([]*handlers.ContactDisplay)
	require.True(t, ok)
	require.Len(t, contacts, 1)
	assert.Equal(t, other, contacts[0].Fingerprint)
}
