package pqcrypto

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// mnemonicWords is a 16-word list; each word encodes one 4-bit nibble of
// entropy. This is a classical stand-in for a full wordlist-based scheme
// (e.g. BIP39's 2048 words), not a wire-compatible implementation of one.
var mnemonicWords = [16]string{
	"anchor", "basin", "cedar", "delta",
	"ember", "frost", "glade", "harbor",
	"inlet", "joust", "karst", "lumen",
	"maple", "nexus", "opal", "prairie",
}

var mnemonicIndex = func() map[string]byte {
	m := make(map[string]byte, len(mnemonicWords))
	for i, w := range mnemonicWords {
		m[w] = byte(i)
	}
	return m
}()

type classicalMnemonic struct{}

// Generate produces a 128-bit-entropy mnemonic: 16 random bytes, each
// nibble mapped to a word, 32 words total.
func (classicalMnemonic) Generate() (string, error) {
	entropy := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, entropy); err != nil {
		return "", fmt.Errorf("generate mnemonic entropy: %w", err)
	}
	words := make([]string, 0, len(entropy)*2)
	for _, b := range entropy {
		words = append(words, mnemonicWords[b>>4], mnemonicWords[b&0x0f])
	}
	return strings.Join(words, " "), nil
}

// Seed derives a 64-byte master seed from a mnemonic and passphrase via
// HKDF over SHA3-512, matching the KEM's use of the same expansion.
func (classicalMnemonic) Seed(mnemonic, passphrase string) []byte {
	reader := hkdf.New(sha3.New512, []byte(mnemonic), []byte(passphrase), []byte("dna-core/mnemonic-seed"))
	seed := make([]byte, 64)
	if _, err := io.ReadFull(reader, seed); err != nil {
		panic(fmt.Sprintf("pqcrypto: seed derivation failed: %v", err))
	}
	return seed
}

// ValidMnemonicWord reports whether w is a recognised word, useful for
// input validation at the CLI boundary.
func ValidMnemonicWord(w string) bool {
	_, ok := mnemonicIndex[w]
	return ok
}
