package handlers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnaproject/dna-core/pkg/apperr"
	"github.com/dnaproject/dna-core/pkg/dhtfacade/memdht"
	"github.com/dnaproject/dna-core/pkg/dispatch"
	"github.com/dnaproject/dna-core/pkg/pqcrypto"
	"github.com/dnaproject/dna-core/pkg/store"
	"github.com/dnaproject/dna-core/pkg/types"
)

// memStore is a minimal in-memory store.Store used so handler tests don't
// need a bbolt file on disk.
type memStore struct {
	contacts map[string]*types.Contact
	messages map[string]*types.OutgoingMessage
	groups   map[string]*types.Group
	profiles map[string]*store.ProfileCacheEntry
	presence map[string]*types.PresenceRecord
	wallets  []*types.Wallet
}

func newMemStore() *memStore {
	return &memStore{
		contacts: map[string]*types.Contact{},
		messages: map[string]*types.OutgoingMessage{},
		groups:   map[string]*types.Group{},
		profiles: map[string]*store.ProfileCacheEntry{},
		presence: map[string]*types.PresenceRecord{},
	}
}

func (s *memStore) UpsertContact(c *types.Contact) error { s.contacts[c.Fingerprint] = c; return nil }
func (s *memStore) GetContact(fp string) (*types.Contact, error) {
	c, ok := s.contacts[fp]
	if !ok {
		return nil, apperr.New(apperr.NotFound, fp)
	}
	return c, nil
}
func (s *memStore) ListContacts() ([]*types.Contact, error) {
	var out []*types.Contact
	for _, c := range s.contacts {
		out = append(out, c)
	}
	return out, nil
}
func (s *memStore) DeleteContact(fp string) error { delete(s.contacts, fp); return nil }

func (s *memStore) SaveMessage(m *types.OutgoingMessage) error { s.messages[m.ID] = m; return nil }
func (s *memStore) GetMessage(id string) (*types.OutgoingMessage, error) {
	m, ok := s.messages[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, id)
	}
	return m, nil
}
func (s *memStore) ListRetryCandidates() ([]*types.OutgoingMessage, error) { return nil, nil }
func (s *memStore) ListConversation(peer string) ([]*types.OutgoingMessage, error) {
	var out []*types.OutgoingMessage
	for _, m := range s.messages {
		if !m.IsGroup() && (m.Recipient == peer) {
			out = append(out, m)
		}
	}
	return out, nil
}
func (s *memStore) ListGroupConversation(groupID string) ([]*types.OutgoingMessage, error) {
	var out []*types.OutgoingMessage
	for _, m := range s.messages {
		if m.GroupID == groupID {
			out = append(out, m)
		}
	}
	return out, nil
}
func (s *memStore) UpdateMessageStatus(id string, status types.MessageStatus, retryCount int) error {
	m, err := s.GetMessage(id)
	if err != nil {
		return err
	}
	m.Status = status
	m.RetryCount = retryCount
	return nil
}

func (s *memStore) UpsertGroup(g *types.Group) error { s.groups[g.ID] = g; return nil }
func (s *memStore) GetGroup(id string) (*types.Group, error) {
	g, ok := s.groups[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, id)
	}
	return g, nil
}
func (s *memStore) ListGroups() ([]*types.Group, error) {
	var out []*types.Group
	for _, g := range s.groups {
		out = append(out, g)
	}
	return out, nil
}
func (s *memStore) DeleteGroup(id string) error { delete(s.groups, id); return nil }

func (s *memStore) PutProfileCache(e *store.ProfileCacheEntry) error {
	if !e.Complete() {
		return apperr.New(apperr.InvalidParam, "incomplete profile")
	}
	s.profiles[e.Fingerprint] = e
	return nil
}
func (s *memStore) GetProfileCache(fp string) (*store.ProfileCacheEntry, error) {
	e, ok := s.profiles[fp]
	if !ok {
		return nil, apperr.New(apperr.NotFound, fp)
	}
	return e, nil
}
func (s *memStore) DeleteProfileCache(fp string) error { delete(s.profiles, fp); return nil }

func (s *memStore) PutPresence(p *types.PresenceRecord) error {
	s.presence[p.Fingerprint] = p
	return nil
}
func (s *memStore) GetPresence(fp string) (*types.PresenceRecord, error) {
	p, ok := s.presence[fp]
	if !ok {
		return nil, apperr.New(apperr.NotFound, fp)
	}
	return p, nil
}

func (s *memStore) PutKeyserverName(fp, name string) error { return nil }
func (s *memStore) GetKeyserverName(fp string) (string, error) {
	return "", apperr.New(apperr.NotFound, fp)
}

func (s *memStore) UpsertWallet(w *types.Wallet) error { s.wallets = append(s.wallets, w); return nil }
func (s *memStore) ListWallets() ([]*types.Wallet, error) { return s.wallets, nil }

func (s *memStore) Close() error { return nil }

var _ store.Store = (*memStore)(nil)

func newTestDeps() Deps {
	return Deps{
		Store:    newMemStore(),
		DHT:      memdht.New(),
		Crypto:   pqcrypto.NewClassicalSuite(),
		Dispatch: dispatch.New(),
	}
}

func TestIdentityCreateAndLoad(t *testing.T) {
	deps := newTestDeps()
	ih := NewIdentity(deps, t.TempDir())

	signSeed := make([]byte, 32)
	encSeed := make([]byte, 32)
	for i := range signSeed {
		signSeed[i] = byte(i)
		encSeed[i] = byte(i + 1)
	}

	fp, err := ih.Create("alice", signSeed, encSeed, []byte("master"), "mnemonic words here", "hunter2")
	require.NoError(t, err)
	assert.Len(t, fp, 128)

	id, mat, err := ih.Load(fp, "hunter2", false)
	require.NoError(t, err)
	assert.Equal(t, fp, id.Fingerprint)
	assert.NotEmpty(t, mat.SigningPrivateKey)

	_, _, err = ih.Load(fp, "wrong", false)
	assert.Equal(t, apperr.WrongPassword, apperr.CodeOf(err))
}

func TestIdentityCreateRejectsBadName(t *testing.T) {
	deps := newTestDeps()
	ih := NewIdentity(deps, t.TempDir())
	_, err := ih.Create("Bad Name!", make([]byte, 32), make([]byte, 32), nil, "m", "")
	assert.Equal(t, apperr.InvalidParam, apperr.CodeOf(err))
}

func TestContactsDisplayNameFallback(t *testing.T) {
	deps := newTestDeps()
	ch := NewContacts(deps, nil)
	require.NoError(t, deps.Store.UpsertContact(&types.Contact{Fingerprint: "abcdefabcdefabcd0123"}))

	list, err := ch.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "abcdefabcdefabcd", list[0].DisplayName)
}

func TestContactRequestAutoApprove(t *testing.T) {
	deps := newTestDeps()
	ch := NewContacts(deps, nil)
	ch.Bind("self-fp")

	req := &ContactRequest{FromFingerprint: "bob-fp", Message: acceptedMarker}
	data, err := json.Marshal([]*ContactRequest{req})
	require.NoError(t, err)
	require.NoError(t, deps.DHT.Put(nil, ContactRequestInboxKey("self-fp"), data))

	pending, autoApprove, err := ch.Fetch("self-fp")
	require.NoError(t, err)
	assert.Empty(t, pending)
	require.Len(t, autoApprove, 1)

	msg, err := ch.Approve(autoApprove[0])
	require.NoError(t, err)
	assert.Equal(t, acceptedMarker, msg)

	_, err = deps.Store.GetContact("bob-fp")
	assert.NoError(t, err)
}

func TestContactRequestFetchDedupsPendingAcrossPolls(t *testing.T) {
	deps := newTestDeps()
	ch := NewContacts(deps, nil)
	ch.Bind("self-fp")

	req := &ContactRequest{FromFingerprint: "carol-fp", Message: "hi, let's connect"}
	data, err := json.Marshal([]*ContactRequest{req})
	require.NoError(t, err)
	require.NoError(t, deps.DHT.Put(nil, ContactRequestInboxKey("self-fp"), data))

	pending, _, err := ch.Fetch("self-fp")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// The inbox value hasn't changed (carol hasn't been approved or
	// removed), so a second poll must not re-surface the same request.
	pending, _, err = ch.Fetch("self-fp")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestContactRequestFetchDropsBlockedContact(t *testing.T) {
	deps := newTestDeps()
	ch := NewContacts(deps, nil)
	ch.Bind("self-fp")

	require.NoError(t, deps.Store.UpsertContact(&types.Contact{Fingerprint: "dave-fp"}))
	require.NoError(t, ch.Block("dave-fp"))

	c, err := deps.Store.GetContact("dave-fp")
	require.NoError(t, err)
	assert.True(t, c.Blocked)

	req := &ContactRequest{FromFingerprint: "dave-fp", Message: "let me back in"}
	data, err := json.Marshal([]*ContactRequest{req})
	require.NoError(t, err)
	require.NoError(t, deps.DHT.Put(nil, ContactRequestInboxKey("self-fp"), data))

	pending, autoApprove, err := ch.Fetch("self-fp")
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Empty(t, autoApprove)

	require.NoError(t, ch.Unblock("dave-fp"))
	c, err = deps.Store.GetContact("dave-fp")
	require.NoError(t, err)
	assert.False(t, c.Blocked)
}

func TestMessagingSendRequiresCachedKey(t *testing.T) {
	deps := newTestDeps()
	mh := NewMessaging(deps)
	mh.Bind("self-fp", nil)

	_, err := mh.Send("unknown-fp", "text", []byte("hi"))
	assert.Equal(t, apperr.KeyUnavailable, apperr.CodeOf(err))

	_, err = deps.Store.GetMessage("anything")
	assert.Equal(t, apperr.NotFound, apperr.CodeOf(err))
}

func TestMessagingSendPublishesAndSaves(t *testing.T) {
	deps := newTestDeps()
	mh := NewMessaging(deps)
	mh.Bind("self-fp", nil)

	kem := pqcrypto.ClassicalKEM{}
	pub, _, err := kem.GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, deps.Store.PutProfileCache(&store.ProfileCacheEntry{
		Fingerprint:         "bob-fp",
		SigningPublicKey:    []byte("sig-pub"),
		EncryptionPublicKey: pub,
	}))

	msg, err := mh.Send("bob-fp", "text", []byte("hello bob"))
	require.NoError(t, err)
	assert.Equal(t, types.MessageSent, msg.Status)
	assert.True(t, msg.IsOutgoing)

	got, err := deps.Store.GetMessage(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MessageSent, got.Status)
}

// TestMessagingRoundTripReceive is the send->receive path CheckOffline and
// the outbox listener both rely on: Bob's own Messaging, bound with his
// encryption private key, decapsulates and opens what Alice published to
// his outbox slot and saves it as an incoming message.
func TestMessagingRoundTripReceive(t *testing.T) {
	aliceDeps := newTestDeps()
	alice := NewMessaging(aliceDeps)
	alice.Bind("alice-fp", nil)

	kem := pqcrypto.ClassicalKEM{}
	bobPub, bobPriv, err := kem.GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, aliceDeps.Store.PutProfileCache(&store.ProfileCacheEntry{
		Fingerprint:         "bob-fp",
		SigningPublicKey:    []byte("sig-pub"),
		EncryptionPublicKey: bobPub,
	}))

	_, err = alice.Send("bob-fp", "text", []byte("hello bob"))
	require.NoError(t, err)

	bobDeps := newTestDeps()
	bobDeps.DHT = aliceDeps.DHT // same facade instance both engines publish/read through
	bob := NewMessaging(bobDeps)
	bob.Bind("bob-fp", bobPriv)

	dayBucket := int(time.Now().UTC().Unix() / 86400)
	raw, err := bobDeps.DHT.Get(nil, OutboxKey("bob-fp", "alice-fp", dayBucket))
	require.NoError(t, err)

	saved, err := bob.ReceiveWire("alice-fp", raw)
	require.NoError(t, err)
	assert.True(t, saved)

	conv, err := bob.Conversation("alice-fp")
	require.NoError(t, err)
	require.Len(t, conv, 1)
	assert.Equal(t, "hello bob", string(conv[0].Plaintext))
	assert.False(t, conv[0].IsOutgoing)
	assert.Equal(t, types.MessageReceived, conv[0].Status)

	// Replaying the same wire message does not duplicate the conversation.
	saved, err = bob.ReceiveWire("alice-fp", raw)
	require.NoError(t, err)
	assert.False(t, saved)
	conv, err = bob.Conversation("alice-fp")
	require.NoError(t, err)
	assert.Len(t, conv, 1)
}

// TestMessagingCheckOfflineSavesIncoming exercises check_offline_messages
// end to end: Bob polls his contact's outbox and must end up with Alice's
// message decrypted and persisted, with OUTBOX_UPDATED reported once.
func TestMessagingCheckOfflineSavesIncoming(t *testing.T) {
	aliceDeps := newTestDeps()
	alice := NewMessaging(aliceDeps)
	alice.Bind("alice-fp", nil)

	kem := pqcrypto.ClassicalKEM{}
	bobPub, bobPriv, err := kem.GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, aliceDeps.Store.PutProfileCache(&store.ProfileCacheEntry{
		Fingerprint:         "bob-fp",
		SigningPublicKey:    []byte("sig-pub"),
		EncryptionPublicKey: bobPub,
	}))
	_, err = alice.Send("bob-fp", "text", []byte("offline hello"))
	require.NoError(t, err)

	bobDeps := newTestDeps()
	bobDeps.DHT = aliceDeps.DHT
	require.NoError(t, bobDeps.Store.UpsertContact(&types.Contact{Fingerprint: "alice-fp"}))
	bob := NewMessaging(bobDeps)
	bob.Bind("bob-fp", bobPriv)

	result, err := bob.CheckOffline(false)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice-fp"}, result.UpdatedContacts)

	conv, err := bob.Conversation("alice-fp")
	require.NoError(t, err)
	require.Len(t, conv, 1)
	assert.Equal(t, "offline hello", string(conv[0].Plaintext))

	// A second poll against the same unrotated day bucket must not
	// re-report the contact or re-save the message.
	result, err = bob.CheckOffline(false)
	require.NoError(t, err)
	assert.Empty(t, result.UpdatedContacts)
	conv, err = bob.Conversation("alice-fp")
	require.NoError(t, err)
	assert.Len(t, conv, 1)
}

func TestGroupsCreateAndMembership(t *testing.T) {
	deps := newTestDeps()
	gh := NewGroups(deps)
	gh.Bind("alice-fp")

	g, err := gh.Create("friends", []string{"bob-fp"})
	require.NoError(t, err)
	assert.Contains(t, g.Members, "alice-fp")
	assert.Contains(t, g.Members, "bob-fp")

	require.NoError(t, gh.AddMember(g.ID, "carol-fp"))
	members, err := gh.Members(g.ID)
	require.NoError(t, err)
	assert.Contains(t, members, "carol-fp")

	err = gh.RemoveMember("bob-fp", g.ID, "carol-fp")
	assert.Equal(t, apperr.Permission, apperr.CodeOf(err))

	require.NoError(t, gh.RemoveMember("alice-fp", g.ID, "carol-fp"))
	g2, err := gh.Info(g.ID)
	require.NoError(t, err)
	assert.NotContains(t, g2.Members, "carol-fp")
	assert.Equal(t, 2, g2.GEKVersion)
}

func TestProfileUpdateAndGet(t *testing.T) {
	deps := newTestDeps()
	ph := NewProfile(deps, nil)
	ph.Bind("alice-fp", "alice", nil, nil, nil)

	signer := pqcrypto.ClassicalSigner{}
	signPub, signPriv, err := signer.GenerateKeyPair()
	require.NoError(t, err)

	require.NoError(t, ph.Update("alice", signPub, []byte("enc-pub"), signPriv))

	entry, err := ph.Get("alice-fp")
	require.NoError(t, err)
	assert.Equal(t, "alice", entry.RegisteredName)
}

// TestProfileGetRepublishesOwnInvalidSignature covers the corrective path:
// when our own cached-miss profile fetch turns up a record whose signature
// doesn't verify, Get must republish a fresh, correctly-signed record
// rather than just reporting the failure.
func TestProfileGetRepublishesOwnInvalidSignature(t *testing.T) {
	deps := newTestDeps()
	ph := NewProfile(deps, nil)

	signer := pqcrypto.ClassicalSigner{}
	signPub, signPriv, err := signer.GenerateKeyPair()
	require.NoError(t, err)
	ph.Bind("alice-fp", "alice", signPub, []byte("enc-pub"), signPriv)

	badRec := profileRecord{
		Fingerprint:         "alice-fp",
		RegisteredName:      "alice",
		SigningPublicKey:    signPub,
		EncryptionPublicKey: []byte("enc-pub"),
		Signature:           []byte("not-a-real-signature"),
	}
	data, err := json.Marshal(badRec)
	require.NoError(t, err)
	require.NoError(t, deps.DHT.Put(nil, ProfileKey("alice-fp"), data))

	entry, err := ph.Get("alice-fp")
	require.NoError(t, err)
	assert.Equal(t, "alice", entry.RegisteredName)

	raw, err := deps.DHT.Get(nil, ProfileKey("alice-fp"))
	require.NoError(t, err)
	var rec profileRecord
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.True(t, deps.Crypto.Signer.Verify(rec.SigningPublicKey, signedProfilePayload(&rec), rec.Signature))
}

func TestWalletListDerivesOnFirstCall(t *testing.T) {
	deps := newTestDeps()
	clients := map[types.WalletChain]ChainClient{
		types.ChainETH: fakeChainClient{},
	}
	wh := NewWallet(deps, clients)

	wallets, err := wh.List([]byte("master seed"))
	require.NoError(t, err)
	require.Len(t, wallets, 1)
	assert.Equal(t, types.ChainETH, wallets[0].Chain)

	again, err := wh.List([]byte("master seed"))
	require.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestWalletChainErrorMapping(t *testing.T) {
	deps := newTestDeps()
	clients := map[types.WalletChain]ChainClient{
		types.ChainETH: fakeChainClient{balanceErr: &ChainError{Code: -2, Msg: "low"}},
	}
	wh := NewWallet(deps, clients)
	_, err := wh.Balance(types.ChainETH, "0xabc")
	assert.Equal(t, apperr.InsufficientBalance, apperr.CodeOf(err))
}

type fakeChainClient struct {
	balanceErr error
}

func (f fakeChainClient) Derive(masterSeed []byte, index int) (string, []byte, error) {
	return "0xderived", []byte("priv"), nil
}
func (f fakeChainClient) Balance(address string) (string, error) {
	if f.balanceErr != nil {
		return "", f.balanceErr
	}
	return "1.0", nil
}
func (f fakeChainClient) Send(priv []byte, recipient, amount, token, network, gasSpeed string) (string, error) {
	return "0xhash", nil
}
func (f fakeChainClient) Transactions(address string) ([]*types.Transaction, error) {
	return []*types.Transaction{{Hash: "0xhash", Timestamp: time.Now()}}, nil
}
