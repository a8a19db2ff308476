package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/dnaproject/dna-core/pkg/apperr"
	"github.com/dnaproject/dna-core/pkg/types"
)

var (
	bucketContacts     = []byte("contacts")
	bucketMessages     = []byte("messages")
	bucketGroups       = []byte("groups")
	bucketProfileCache = []byte("profile_cache")
	bucketPresence     = []byte("presence")
	bucketKeyserver    = []byte("keyserver_cache")
	bucketWallets      = []byte("wallets")
)

var allBuckets = [][]byte{
	bucketContacts, bucketMessages, bucketGroups, bucketProfileCache,
	bucketPresence, bucketKeyserver, bucketWallets,
}

// BoltStore is the bbolt-backed reference Store.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) db/dna.db under dataDir and
// ensures every bucket exists.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "db", "dna.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Database, "open store", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.Database, "initialize buckets", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func put(db *bolt.DB, bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "marshal", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, data)
	})
	if err != nil {
		return apperr.Wrap(apperr.Database, "put", err)
	}
	return nil
}

func get(db *bolt.DB, bucket, key []byte, v any) error {
	var data []byte
	err := db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucket).Get(key)
		if raw == nil {
			return nil
		}
		data = append([]byte{}, raw...)
		return nil
	})
	if err != nil {
		return apperr.Wrap(apperr.Database, "get", err)
	}
	if data == nil {
		return apperr.New(apperr.NotFound, string(key))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Wrap(apperr.Internal, "unmarshal", err)
	}
	return nil
}

func del(db *bolt.DB, bucket, key []byte) error {
	err := db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete(key)
	})
	if err != nil {
		return apperr.Wrap(apperr.Database, "delete", err)
	}
	return nil
}

// Contacts

func (s *BoltStore) UpsertContact(c *types.Contact) error {
	return put(s.db, bucketContacts, []byte(c.Fingerprint), c)
}

func (s *BoltStore) GetContact(fingerprint string) (*types.Contact, error) {
	var c types.Contact
	if err := get(s.db, bucketContacts, []byte(fingerprint), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) ListContacts() ([]*types.Contact, error) {
	var out []*types.Contact
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContacts).ForEach(func(k, v []byte) error {
			var c types.Contact
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, &c)
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Database, "list contacts", err)
	}
	return out, nil
}

func (s *BoltStore) DeleteContact(fingerprint string) error {
	return del(s.db, bucketContacts, []byte(fingerprint))
}

// Messages

func (s *BoltStore) SaveMessage(m *types.OutgoingMessage) error {
	return put(s.db, bucketMessages, []byte(m.ID), m)
}

func (s *BoltStore) GetMessage(id string) (*types.OutgoingMessage, error) {
	var m types.OutgoingMessage
	if err := get(s.db, bucketMessages, []byte(id), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *BoltStore) ListRetryCandidates() ([]*types.OutgoingMessage, error) {
	var out []*types.OutgoingMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMessages).ForEach(func(k, v []byte) error {
			var m types.OutgoingMessage
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.Status == types.MessagePending || m.Status == types.MessageSent {
				out = append(out, &m)
			}
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Database, "list retry candidates", err)
	}
	return out, nil
}

func (s *BoltStore) ListConversation(peerFingerprint string) ([]*types.OutgoingMessage, error) {
	var out []*types.OutgoingMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMessages).ForEach(func(k, v []byte) error {
			var m types.OutgoingMessage
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if !m.IsGroup() && m.Recipient == peerFingerprint {
				out = append(out, &m)
			}
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Database, "list conversation", err)
	}
	sortByCreatedAt(out)
	return out, nil
}

func (s *BoltStore) ListGroupConversation(groupID string) ([]*types.OutgoingMessage, error) {
	var out []*types.OutgoingMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMessages).ForEach(func(k, v []byte) error {
			var m types.OutgoingMessage
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.GroupID == groupID {
				out = append(out, &m)
			}
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Database, "list group conversation", err)
	}
	sortByCreatedAt(out)
	return out, nil
}

func sortByCreatedAt(msgs []*types.OutgoingMessage) {
	for i := 1; i < len(msgs); i++ {
		for j := i; j > 0 && msgs[j].CreatedAt.Before(msgs[j-1].CreatedAt); j-- {
			msgs[j], msgs[j-1] = msgs[j-1], msgs[j]
		}
	}
}

func (s *BoltStore) UpdateMessageStatus(id string, status types.MessageStatus, retryCount int) error {
	m, err := s.GetMessage(id)
	if err != nil {
		return err
	}
	if status < m.Status && status != types.MessageFailed {
		return apperr.New(apperr.InvalidParam, "message status may only advance forward or to FAILED")
	}
	m.Status = status
	m.RetryCount = retryCount
	return s.SaveMessage(m)
}

// Groups

func (s *BoltStore) UpsertGroup(g *types.Group) error {
	return put(s.db, bucketGroups, []byte(g.ID), g)
}

func (s *BoltStore) GetGroup(id string) (*types.Group, error) {
	var g types.Group
	if err := get(s.db, bucketGroups, []byte(id), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *BoltStore) ListGroups() ([]*types.Group, error) {
	var out []*types.Group
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGroups).ForEach(func(k, v []byte) error {
			var g types.Group
			if err := json.Unmarshal(v, &g); err != nil {
				return err
			}
			out = append(out, &g)
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Database, "list groups", err)
	}
	return out, nil
}

func (s *BoltStore) DeleteGroup(id string) error {
	return del(s.db, bucketGroups, []byte(id))
}

// Profile cache

func (s *BoltStore) PutProfileCache(entry *ProfileCacheEntry) error {
	if !entry.Complete() {
		return apperr.New(apperr.InvalidParam, "profile cache entry requires both public keys")
	}
	return put(s.db, bucketProfileCache, []byte(entry.Fingerprint), entry)
}

func (s *BoltStore) GetProfileCache(fingerprint string) (*ProfileCacheEntry, error) {
	var e ProfileCacheEntry
	if err := get(s.db, bucketProfileCache, []byte(fingerprint), &e); err != nil {
		return nil, err
	}
	if !e.Complete() {
		return nil, apperr.New(apperr.NotFound, fingerprint+": incomplete profile cache entry")
	}
	return &e, nil
}

func (s *BoltStore) DeleteProfileCache(fingerprint string) error {
	return del(s.db, bucketProfileCache, []byte(fingerprint))
}

// Presence

func (s *BoltStore) PutPresence(p *types.PresenceRecord) error {
	return put(s.db, bucketPresence, []byte(p.Fingerprint), p)
}

func (s *BoltStore) GetPresence(fingerprint string) (*types.PresenceRecord, error) {
	var p types.PresenceRecord
	if err := get(s.db, bucketPresence, []byte(fingerprint), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Keyserver cache

func (s *BoltStore) PutKeyserverName(fingerprint, name string) error {
	return put(s.db, bucketKeyserver, []byte(fingerprint), name)
}

func (s *BoltStore) GetKeyserverName(fingerprint string) (string, error) {
	var name string
	if err := get(s.db, bucketKeyserver, []byte(fingerprint), &name); err != nil {
		return "", err
	}
	return name, nil
}

// Wallets

func (s *BoltStore) UpsertWallet(w *types.Wallet) error {
	key := fmt.Sprintf("%s:%d", w.Chain, w.Index)
	return put(s.db, bucketWallets, []byte(key), w)
}

func (s *BoltStore) ListWallets() ([]*types.Wallet, error) {
	var out []*types.Wallet
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWallets).ForEach(func(k, v []byte) error {
			var w types.Wallet
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			out = append(out, &w)
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Database, "list wallets", err)
	}
	return out, nil
}

var _ Store = (*BoltStore)(nil)
