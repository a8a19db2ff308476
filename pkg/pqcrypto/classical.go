package pqcrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// ClassicalKEM stands in for the post-quantum KEM using X25519 plus an
// HKDF expansion over SHA3-512, the corpus's habit of reaching for
// golang.org/x/crypto rather than hand-rolled stdlib crypto primitives.
type ClassicalKEM struct{}

func (ClassicalKEM) GenerateKeyPair() (pub, priv []byte, err error) {
	priv = make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(rand.Reader, priv); err != nil {
		return nil, nil, fmt.Errorf("generate kem key: %w", err)
	}
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, fmt.Errorf("derive kem public key: %w", err)
	}
	return pub, priv, nil
}

// GenerateKeyPairFromSeed uses seed directly as the X25519 scalar, so the
// same seed always reproduces the same encryption key pair.
func (ClassicalKEM) GenerateKeyPairFromSeed(seed []byte) (pub, priv []byte, err error) {
	if len(seed) != curve25519.ScalarSize {
		return nil, nil, fmt.Errorf("kem seed must be %d bytes, got %d", curve25519.ScalarSize, len(seed))
	}
	priv = append([]byte(nil), seed...)
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, fmt.Errorf("derive kem public key: %w", err)
	}
	return pub, priv, nil
}

// Encapsulate generates an ephemeral key pair, performs X25519 with
// peerPub, and expands the ECDH output into a 32-byte shared secret. The
// ephemeral public key is the ciphertext the peer needs for Decapsulate.
func (ClassicalKEM) Encapsulate(peerPub []byte) (ciphertext, sharedSecret []byte, err error) {
	ephPriv := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(rand.Reader, ephPriv); err != nil {
		return nil, nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	ephPub, err := curve25519.X25519(ephPriv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, fmt.Errorf("derive ephemeral public key: %w", err)
	}
	ecdh, err := curve25519.X25519(ephPriv, peerPub)
	if err != nil {
		return nil, nil, fmt.Errorf("ecdh: %w", err)
	}
	secret, err := expandSecret(ecdh)
	if err != nil {
		return nil, nil, err
	}
	return ephPub, secret, nil
}

func (ClassicalKEM) Decapsulate(priv, ciphertext []byte) (sharedSecret []byte, err error) {
	ecdh, err := curve25519.X25519(priv, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}
	return expandSecret(ecdh)
}

func expandSecret(ecdh []byte) ([]byte, error) {
	reader := hkdf.New(sha3.New512, ecdh, nil, []byte("dna-core/kem"))
	secret := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, secret); err != nil {
		return nil, fmt.Errorf("expand shared secret: %w", err)
	}
	return secret, nil
}

// ClassicalSigner stands in for the post-quantum signature scheme using
// Ed25519, the classical substitute named in DESIGN.md.
type ClassicalSigner struct{}

func (ClassicalSigner) GenerateKeyPair() (pub, priv []byte, err error) {
	p, s, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate signing key: %w", err)
	}
	return p, s, nil
}

// GenerateKeyPairFromSeed uses seed as the Ed25519 seed directly, so the
// same seed always reproduces the same signing key pair.
func (ClassicalSigner) GenerateKeyPairFromSeed(seed []byte) (pub, priv []byte, err error) {
	if len(seed) != ed25519.SeedSize {
		return nil, nil, fmt.Errorf("signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	key := ed25519.NewKeyFromSeed(seed)
	return append([]byte(nil), key.Public().(ed25519.PublicKey)...), append([]byte(nil), key...), nil
}

func (ClassicalSigner) Sign(priv, message []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key has wrong size: %d", len(priv))
	}
	return ed25519.Sign(ed25519.PrivateKey(priv), message), nil
}

func (ClassicalSigner) Verify(pub, message, signature []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), message, signature)
}

// ClassicalAEAD wraps ChaCha20-Poly1305 for payload encryption.
type ClassicalAEAD struct{}

func (ClassicalAEAD) NonceSize() int { return chacha20poly1305.NonceSize }
func (ClassicalAEAD) KeySize() int   { return chacha20poly1305.KeySize }

func (ClassicalAEAD) Seal(key, nonce, plaintext, additionalData []byte) []byte {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		panic(fmt.Sprintf("pqcrypto: invalid aead key: %v", err))
	}
	return aead.Seal(nil, nonce, plaintext, additionalData)
}

func (ClassicalAEAD) Open(key, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("invalid aead key: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return plaintext, nil
}

// NewClassicalSuite builds the reference Suite used until real
// post-quantum primitives are wired in.
func NewClassicalSuite() Suite {
	return Suite{
		KEM:      ClassicalKEM{},
		Signer:   ClassicalSigner{},
		AEAD:     ClassicalAEAD{},
		Mnemonic: classicalMnemonic{},
	}
}
