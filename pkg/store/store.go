// Package store defines the local relational-cache contract
// (spec.md §1): contacts, messages, groups, addressbook/profile cache,
// presence cache, keyserver cache, wallets. BoltStore below backs it with
// go.etcd.io/bbolt, one bucket per entity, the same interface-first
// design pkg/storage.Store used in the teacher.
package store

import (
	"time"

	"github.com/dnaproject/dna-core/pkg/types"
)

// ProfileCacheEntry is a cached profile. Per DESIGN.md's resolution of
// spec.md §9's open question, an entry is never created without both
// public keys; an incomplete entry must not be served.
type ProfileCacheEntry struct {
	Fingerprint         string
	RegisteredName      string
	SigningPublicKey    []byte
	EncryptionPublicKey []byte
	UpdatedAt           time.Time
}

// Complete reports whether the entry carries both public keys, the
// condition that must hold before it is ever served to a caller.
func (e ProfileCacheEntry) Complete() bool {
	return len(e.SigningPublicKey) > 0 && len(e.EncryptionPublicKey) > 0
}

// Store is every local cache the engine reads and writes through.
type Store interface {
	UpsertContact(c *types.Contact) error
	GetContact(fingerprint string) (*types.Contact, error)
	ListContacts() ([]*types.Contact, error)
	DeleteContact(fingerprint string) error

	SaveMessage(m *types.OutgoingMessage) error
	GetMessage(id string) (*types.OutgoingMessage, error)
	// ListRetryCandidates returns every message with status Pending or
	// Sent (spec.md §3 Outgoing Message invariant i).
	ListRetryCandidates() ([]*types.OutgoingMessage, error)
	ListConversation(peerFingerprint string) ([]*types.OutgoingMessage, error)
	ListGroupConversation(groupID string) ([]*types.OutgoingMessage, error)
	UpdateMessageStatus(id string, status types.MessageStatus, retryCount int) error

	UpsertGroup(g *types.Group) error
	GetGroup(id string) (*types.Group, error)
	ListGroups() ([]*types.Group, error)
	DeleteGroup(id string) error

	PutProfileCache(entry *ProfileCacheEntry) error
	GetProfileCache(fingerprint string) (*ProfileCacheEntry, error)
	DeleteProfileCache(fingerprint string) error

	PutPresence(p *types.PresenceRecord) error
	GetPresence(fingerprint string) (*types.PresenceRecord, error)

	PutKeyserverName(fingerprint, name string) error
	GetKeyserverName(fingerprint string) (string, error)

	UpsertWallet(w *types.Wallet) error
	ListWallets() ([]*types.Wallet, error)

	Close() error
}
