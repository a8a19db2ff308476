// Package pqcrypto defines the cryptographic collaborator boundary the
// engine consumes but does not implement (spec.md §1): a KEM for
// encryption, a signature scheme for authentication, an AEAD for payloads,
// and mnemonic-to-seed derivation. Real post-quantum primitives are out of
// scope; Classical below is a reference implementation built from
// classical primitives so the rest of the engine can be built and tested
// against a concrete, swappable Suite.
package pqcrypto

// KEM is a key-encapsulation mechanism: the encryption half of an
// identity's key pair.
type KEM interface {
	GenerateKeyPair() (pub, priv []byte, err error)
	// GenerateKeyPairFromSeed derives a deterministic key pair from seed,
	// the path create_identity uses so a recovered mnemonic reproduces
	// the same encryption key pair.
	GenerateKeyPairFromSeed(seed []byte) (pub, priv []byte, err error)
	// Encapsulate derives a shared secret for peerPub and returns the
	// ciphertext the peer needs to recover it via Decapsulate.
	Encapsulate(peerPub []byte) (ciphertext, sharedSecret []byte, err error)
	Decapsulate(priv, ciphertext []byte) (sharedSecret []byte, err error)
}

// Signer is a signature scheme: the authentication half of an identity's
// key pair, used for signed-permanent DHT values and contact-request
// authenticity.
type Signer interface {
	GenerateKeyPair() (pub, priv []byte, err error)
	// GenerateKeyPairFromSeed derives a deterministic key pair from seed,
	// the path create_identity uses so a recovered mnemonic reproduces
	// the same signing key pair.
	GenerateKeyPairFromSeed(seed []byte) (pub, priv []byte, err error)
	Sign(priv, message []byte) (signature []byte, err error)
	Verify(pub, message, signature []byte) bool
}

// AEAD authenticates and encrypts message payloads once a shared secret
// has been established via KEM.
type AEAD interface {
	Seal(key, nonce, plaintext, additionalData []byte) (ciphertext []byte)
	Open(key, nonce, ciphertext, additionalData []byte) (plaintext []byte, err error)
	NonceSize() int
	KeySize() int
}

// MnemonicDeriver generates a recovery mnemonic and derives a master seed
// from it, as consumed by wallet key derivation (spec.md §4.6 Wallet).
type MnemonicDeriver interface {
	Generate() (mnemonic string, err error)
	Seed(mnemonic, passphrase string) []byte
}

// Suite bundles one concrete choice of each collaborator, the unit the
// engine is constructed against.
type Suite struct {
	KEM      KEM
	Signer   Signer
	AEAD     AEAD
	Mnemonic MnemonicDeriver
}

// Zeroize overwrites buf with zeros in place. Every call site that reads
// private-key material through the Key Store must call this on release
// (spec.md §3 Identity invariant).
func Zeroize(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
