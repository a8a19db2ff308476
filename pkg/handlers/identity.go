package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/dnaproject/dna-core/pkg/apperr"
	"github.com/dnaproject/dna-core/pkg/keystore"
	"github.com/dnaproject/dna-core/pkg/pqcrypto"
	"github.com/dnaproject/dna-core/pkg/types"
)

var nameRe = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Identity implements create_identity/load_identity/delete_identity
// (spec.md §4.6 Identity). It owns the process-wide identity lock: only
// one identity may be loaded at a time.
type Identity struct {
	deps    Deps
	dataDir string

	mu      sync.Mutex
	current *types.Identity
}

func NewIdentity(deps Deps, dataDir string) *Identity {
	return &Identity{deps: deps, dataDir: dataDir}
}

// Current returns the identity currently loaded, or nil.
func (h *Identity) Current() *types.Identity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Create generates keys from the supplied seeds, persists them (optionally
// under password), and registers name on the DHT. Any failure between key
// generation and successful name registration deletes every on-disk
// artefact it wrote (spec.md §4.6, §7).
func (h *Identity) Create(name string, signingSeed, encSeed, masterSeed []byte, mnemonic, password string) (string, error) {
	if !nameRe.MatchString(name) {
		return "", apperr.New(apperr.InvalidParam, "name must match [a-z0-9_-]+")
	}

	signPub, signPriv, err := h.deps.Crypto.Signer.GenerateKeyPairFromSeed(signingSeed)
	if err != nil {
		return "", apperr.Wrap(apperr.Crypto, "derive signing key pair", err)
	}
	encPub, encPriv, err := h.deps.Crypto.KEM.GenerateKeyPairFromSeed(encSeed)
	if err != nil {
		return "", apperr.Wrap(apperr.Crypto, "derive encryption key pair", err)
	}
	defer pqcrypto.Zeroize(signPriv)
	defer pqcrypto.Zeroize(encPriv)
	defer pqcrypto.Zeroize(masterSeed)

	fingerprint := pqcrypto.Fingerprint(signPub)

	mat := &keystore.Material{
		SigningPrivateKey:    signPriv,
		SigningPublicKey:     signPub,
		EncryptionPrivateKey: encPriv,
		EncryptionPublicKey:  encPub,
		Mnemonic:             []byte(mnemonic),
	}
	ks := keystore.New(h.identityDir(fingerprint))
	if err := ks.Create(mat, password); err != nil {
		h.rollback(fingerprint)
		return "", err
	}

	if err := h.deps.DHT.Put(context.Background(), NameRegistrationKey(name), []byte(fingerprint)); err != nil {
		h.rollback(fingerprint)
		return "", apperr.Wrap(apperr.Network, "register name on DHT", err)
	}

	return fingerprint, nil
}

func (h *Identity) rollback(fingerprint string) {
	_ = os.RemoveAll(h.identityDir(fingerprint))
}

// Load acquires the identity lock, decrypts key material, and builds the
// in-memory Identity. minimal is passed through for the Lifecycle
// Controller to decide whether to start listeners/presence/stabilization
// (spec.md §4.10); Identity itself does not start any of those.
func (h *Identity) Load(fingerprint, password string, minimal bool) (*types.Identity, *keystore.Material, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current != nil && h.current.Fingerprint != fingerprint {
		return nil, nil, apperr.New(apperr.IdentityLocked, "a different identity is already loaded")
	}

	ks := keystore.New(h.identityDir(fingerprint))
	mat, err := ks.Load(password)
	if err != nil {
		return nil, nil, err
	}

	id := &types.Identity{
		Fingerprint:         fingerprint,
		SigningPublicKey:    mat.SigningPublicKey,
		EncryptionPublicKey: mat.EncryptionPublicKey,
		CreatedAt:           time.Now(),
	}
	h.current = id
	return id, mat, nil
}

// Delete unloads the identity if it is current, then removes every
// on-disk artefact, aggregating per-step errors rather than stopping at
// the first one (spec.md §4.6 Identity).
func (h *Identity) Delete(fingerprint string) error {
	h.mu.Lock()
	if h.current != nil && h.current.Fingerprint == fingerprint {
		h.current = nil
	}
	h.mu.Unlock()

	dir := h.identityDir(fingerprint)
	var errs []error
	for _, rel := range []string{"keys", "db", "wallets", "mnemonic.enc", "dht_identity.bin"} {
		if err := os.RemoveAll(filepath.Join(dir, rel)); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", rel, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	msg := ""
	for i, e := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += e.Error()
	}
	return apperr.New(apperr.Database, msg)
}

func (h *Identity) identityDir(fingerprint string) string {
	return filepath.Join(h.dataDir, fingerprint)
}
