// Package keystore loads and persists the signing key pair, encryption key
// pair, and mnemonic for the one identity the engine owns, encrypting them
// at rest the way the teacher's secrets manager encrypts cluster secrets:
// AES-256-GCM with the nonce prepended to the ciphertext.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dnaproject/dna-core/pkg/apperr"
)

const (
	signingFile    = "keys/identity.dsa"
	encryptionFile = "keys/identity.kem"
	mnemonicFile   = "mnemonic.enc"

	plainMagic     byte = 0x00
	encryptedMagic byte = 0x01
)

// Material is the key material for one identity. Every buffer is owned by
// the caller once returned from Load or Create and must be passed to
// Zeroize when the caller is done with it (spec.md §3 Identity invariant).
type Material struct {
	SigningPrivateKey    []byte
	SigningPublicKey     []byte
	EncryptionPrivateKey []byte
	EncryptionPublicKey  []byte
	Mnemonic             []byte
}

// Store is the on-disk key store rooted at a single identity's data
// directory, per the flat layout spec.md §4.1 and §6 name: keys/identity.dsa,
// keys/identity.kem, mnemonic.enc.
type Store struct {
	dataDir string
}

func New(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

// Load decrypts and returns the identity's key material. password may be
// empty only if the files were created without one.
func (s *Store) Load(password string) (*Material, error) {
	dsa, err := s.readBlob(signingFile, password)
	if err != nil {
		return nil, err
	}
	kem, err := s.readBlob(encryptionFile, password)
	if err != nil {
		return nil, err
	}
	mnemonic, err := s.readBlob(mnemonicFile, password)
	if err != nil {
		return nil, err
	}

	mat, err := decodeMaterial(dsa, kem, mnemonic)
	if err != nil {
		return nil, apperr.Wrap(apperr.Crypto, "decode key material", err)
	}
	return mat, nil
}

// Create writes signing keys, encryption keys and mnemonic to disk,
// optionally encrypted under password. It fails closed: any write error
// leaves no partially-written file behind.
func (s *Store) Create(mat *Material, password string) error {
	if err := os.MkdirAll(filepath.Join(s.dataDir, "keys"), 0o700); err != nil {
		return apperr.Wrap(apperr.Database, "create keys directory", err)
	}
	dsa := encodeKeyPair(mat.SigningPrivateKey, mat.SigningPublicKey)
	kem := encodeKeyPair(mat.EncryptionPrivateKey, mat.EncryptionPublicKey)

	cleanup := func() {
		for _, f := range []string{signingFile, encryptionFile, mnemonicFile} {
			_ = os.Remove(s.path(f))
		}
	}
	if err := s.writeBlob(signingFile, dsa, password); err != nil {
		cleanup()
		return err
	}
	if err := s.writeBlob(encryptionFile, kem, password); err != nil {
		cleanup()
		return err
	}
	if err := s.writeBlob(mnemonicFile, mat.Mnemonic, password); err != nil {
		cleanup()
		return err
	}
	return nil
}

// ChangePassword re-encrypts DSA, KEM and the mnemonic in order, atomically
// per spec.md §4.1: if step N fails it rolls every already-rewritten step
// (1 through N-1) back to oldPassword and reports CRYPTO.
func (s *Store) ChangePassword(oldPassword, newPassword string) error {
	files := [...]string{signingFile, encryptionFile, mnemonicFile}

	rewritten := 0
	rollback := func() {
		for i := 0; i < rewritten; i++ {
			blob, err := s.readBlob(files[i], newPassword)
			if err != nil {
				continue
			}
			_ = s.writeBlob(files[i], blob, oldPassword)
		}
	}

	for _, f := range files {
		blob, err := s.readBlob(f, oldPassword)
		if err != nil {
			rollback()
			return apperr.Wrap(apperr.Crypto, "change password: re-read "+f, err)
		}
		if err := s.writeBlob(f, blob, newPassword); err != nil {
			rollback()
			return apperr.Wrap(apperr.Crypto, "change password: rewrite "+f, err)
		}
		rewritten++
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dataDir, name)
}

func (s *Store) readBlob(name, password string) ([]byte, error) {
	raw, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.NoIdentity, "no identity at "+s.dataDir)
		}
		return nil, apperr.Wrap(apperr.Database, "read "+name, err)
	}
	if len(raw) == 0 {
		return nil, apperr.New(apperr.Database, name+" is empty")
	}

	magic, body := raw[0], raw[1:]
	switch magic {
	case plainMagic:
		return body, nil
	case encryptedMagic:
		if password == "" {
			return nil, apperr.New(apperr.PasswordRequired, name+" is encrypted")
		}
		plaintext, err := decrypt(body, password)
		if err != nil {
			return nil, apperr.New(apperr.WrongPassword, name)
		}
		return plaintext, nil
	default:
		return nil, apperr.New(apperr.Database, name+" has an unrecognised header")
	}
}

func (s *Store) writeBlob(name string, plaintext []byte, password string) error {
	var out []byte
	if password == "" {
		out = append([]byte{plainMagic}, plaintext...)
	} else {
		ciphertext, err := encrypt(plaintext, password)
		if err != nil {
			return apperr.Wrap(apperr.Crypto, "encrypt "+name, err)
		}
		out = append([]byte{encryptedMagic}, ciphertext...)
	}
	if err := os.MkdirAll(filepath.Dir(s.path(name)), 0o700); err != nil {
		return apperr.Wrap(apperr.Database, "create directory for "+name, err)
	}
	if err := os.WriteFile(s.path(name), out, 0o600); err != nil {
		return apperr.Wrap(apperr.Database, "write "+name, err)
	}
	return nil
}

// deriveKey mirrors the teacher's NewSecretsManagerFromPassword: SHA-256
// of the password yields the 32-byte AES-256 key.
func deriveKey(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return sum[:]
}

func encrypt(plaintext []byte, password string) ([]byte, error) {
	block, err := aes.NewCipher(deriveKey(password))
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(ciphertext []byte, password string) ([]byte, error) {
	block, err := aes.NewCipher(deriveKey(password))
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}
