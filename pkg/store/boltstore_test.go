package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnaproject/dna-core/pkg/apperr"
	"github.com/dnaproject/dna-core/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestContactRoundTrip(t *testing.T) {
	s := newTestStore(t)
	c := &types.Contact{Fingerprint: "fp1", Nickname: "Alice", AddedAt: time.Now()}
	require.NoError(t, s.UpsertContact(c))

	got, err := s.GetContact("fp1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Nickname)

	list, err := s.ListContacts()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteContact("fp1"))
	_, err = s.GetContact("fp1")
	assert.Equal(t, apperr.NotFound, apperr.CodeOf(err))
}

func TestMessageStatusMayOnlyAdvance(t *testing.T) {
	s := newTestStore(t)
	m := &types.OutgoingMessage{ID: "m1", Recipient: "fp1", Status: types.MessageSent, CreatedAt: time.Now()}
	require.NoError(t, s.SaveMessage(m))

	err := s.UpdateMessageStatus("m1", types.MessagePending, 0)
	assert.Error(t, err)

	require.NoError(t, s.UpdateMessageStatus("m1", types.MessageReceived, 0))
	got, err := s.GetMessage("m1")
	require.NoError(t, err)
	assert.Equal(t, types.MessageReceived, got.Status)

	require.NoError(t, s.UpdateMessageStatus("m1", types.MessageFailed, 5))
}

func TestListRetryCandidatesFiltersByStatus(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveMessage(&types.OutgoingMessage{ID: "m1", Status: types.MessagePending}))
	require.NoError(t, s.SaveMessage(&types.OutgoingMessage{ID: "m2", Status: types.MessageSent}))
	require.NoError(t, s.SaveMessage(&types.OutgoingMessage{ID: "m3", Status: types.MessageReceived}))
	require.NoError(t, s.SaveMessage(&types.OutgoingMessage{ID: "m4", Status: types.MessageFailed}))

	candidates, err := s.ListRetryCandidates()
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
}

func TestProfileCacheRejectsIncompleteEntry(t *testing.T) {
	s := newTestStore(t)
	err := s.PutProfileCache(&ProfileCacheEntry{Fingerprint: "fp1"})
	assert.Equal(t, apperr.InvalidParam, apperr.CodeOf(err))

	require.NoError(t, s.PutProfileCache(&ProfileCacheEntry{
		Fingerprint:         "fp1",
		SigningPublicKey:    []byte("sign-pub"),
		EncryptionPublicKey: []byte("enc-pub"),
	}))
	got, err := s.GetProfileCache("fp1")
	require.NoError(t, err)
	assert.True(t, got.Complete())
}

func TestWalletsListByKey(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertWallet(&types.Wallet{Index: 0, Chain: types.ChainETH, Address: "0xabc"}))
	require.NoError(t, s.UpsertWallet(&types.Wallet{Index: 0, Chain: types.ChainSOL, Address: "sol-addr"}))

	wallets, err := s.ListWallets()
	require.NoError(t, err)
	assert.Len(t, wallets, 2)
}
