package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dnaproject/dna-core/pkg/apperr"
	"github.com/dnaproject/dna-core/pkg/store"
)

// RemoveContactFunc lets Profile trigger the Contacts auto-remove action
// without importing Contacts directly, the same one-way-edge convention
// StartContactListeners uses.
type RemoveContactFunc func(fingerprint string) error

// profileRecord is what get_profile actually reads/writes on the DHT: a
// signed envelope binding a registered name to both public keys.
type profileRecord struct {
	Fingerprint         string
	RegisteredName      string
	SigningPublicKey    []byte
	EncryptionPublicKey []byte
	Signature           []byte
}

// Profile implements the cache-first profile get/lookup and update
// contract of spec.md §4.6 Profile & Backup: signature-verification
// failure on one's own profile triggers automatic republish, on a
// contact's profile it auto-removes the contact.
type Profile struct {
	deps          Deps
	self          string
	removeContact RemoveContactFunc

	registeredName                 string
	signingPub, encPub, signingPriv []byte
}

func NewProfile(deps Deps, removeContact RemoveContactFunc) *Profile {
	return &Profile{deps: deps, removeContact: removeContact}
}

// Bind records the loaded identity's fingerprint and republish material:
// the signed profile fields Get's own-profile branch needs to rebuild and
// republish a profile record without prompting the caller.
func (h *Profile) Bind(selfFingerprint, registeredName string, signingPub, encPub, signingPriv []byte) {
	h.self = selfFingerprint
	h.registeredName = registeredName
	h.signingPub = signingPub
	h.encPub = encPub
	h.signingPriv = signingPriv
}

// Get returns the cached profile for fingerprint, falling back to a DHT
// fetch (and cache fill) on a miss. A signature failure on a contact's
// profile auto-removes them; on our own profile it triggers a republish.
func (h *Profile) Get(fingerprint string) (*store.ProfileCacheEntry, error) {
	if cached, err := h.deps.Store.GetProfileCache(fingerprint); err == nil {
		return cached, nil
	}

	raw, err := h.deps.DHT.Get(context.Background(), ProfileKey(fingerprint))
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "fetch profile", err)
	}
	var rec profileRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "decode profile", err)
	}

	if !h.deps.Crypto.Signer.Verify(rec.SigningPublicKey, signedProfilePayload(&rec), rec.Signature) {
		if fingerprint == h.self {
			if rerr := h.Update(h.registeredName, h.signingPub, h.encPub, h.signingPriv); rerr != nil {
				return nil, apperr.Wrap(apperr.InvalidSignature, "own profile signature invalid, republish failed", rerr)
			}
			return h.deps.Store.GetProfileCache(fingerprint)
		}
		if h.removeContact != nil {
			_ = h.removeContact(fingerprint)
		}
		return nil, apperr.New(apperr.InvalidSignature, "contact profile signature invalid")
	}

	entry := &store.ProfileCacheEntry{
		Fingerprint:         fingerprint,
		RegisteredName:      rec.RegisteredName,
		SigningPublicKey:    rec.SigningPublicKey,
		EncryptionPublicKey: rec.EncryptionPublicKey,
		UpdatedAt:           time.Now(),
	}
	if err := h.deps.Store.PutProfileCache(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Update publishes a freshly-signed profile record and updates the local
// cache directly, without a read-back, to avoid propagation delay
// (spec.md §4.6 Profile & Backup).
func (h *Profile) Update(registeredName string, signingPub, encPub, signingPriv []byte) error {
	rec := profileRecord{
		Fingerprint:         h.self,
		RegisteredName:      registeredName,
		SigningPublicKey:    signingPub,
		EncryptionPublicKey: encPub,
	}
	sig, err := h.deps.Crypto.Signer.Sign(signingPriv, signedProfilePayload(&rec))
	if err != nil {
		return apperr.Wrap(apperr.Crypto, "sign profile", err)
	}
	rec.Signature = sig
	data, err := json.Marshal(rec)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "marshal profile", err)
	}
	if err := h.deps.DHT.Put(context.Background(), ProfileKey(h.self), data); err != nil {
		return apperr.Wrap(apperr.Network, "publish profile", err)
	}

	entry := &store.ProfileCacheEntry{
		Fingerprint:         h.self,
		RegisteredName:      registeredName,
		SigningPublicKey:    signingPub,
		EncryptionPublicKey: encPub,
		UpdatedAt:           time.Now(),
	}
	return h.deps.Store.PutProfileCache(entry)
}

func signedProfilePayload(rec *profileRecord) []byte {
	data, _ := json.Marshal(struct {
		Fingerprint         string
		RegisteredName      string
		SigningPublicKey    []byte
		EncryptionPublicKey []byte
	}{rec.Fingerprint, rec.RegisteredName, rec.SigningPublicKey, rec.EncryptionPublicKey})
	return data
}
