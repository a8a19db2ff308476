package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dnaproject/dna-core/pkg/types"
)

func TestDispatchInvokesRegisteredCallback(t *testing.T) {
	d := New()
	received := make(chan types.Event, 1)
	d.Register(func(e types.Event) { received <- e })

	d.Dispatch(types.Event{Type: types.EventIdentityLoaded, Fingerprint: "abc"})

	select {
	case e := <-received:
		assert.Equal(t, "abc", e.Fingerprint)
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
}

func TestDispatchWithNoSubscriberDoesNotPanic(t *testing.T) {
	d := New()
	assert.NotPanics(t, func() {
		d.Dispatch(types.Event{Type: types.EventOutboxUpdated})
	})
}

func TestRegisterNilUnregisters(t *testing.T) {
	d := New()
	called := false
	d.Register(func(types.Event) { called = true })
	d.Register(nil)
	d.Dispatch(types.Event{})
	assert.False(t, called)
}
