package pqcrypto

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Fingerprint derives the 128-hex identity fingerprint from a signing
// public key (spec.md §3 Identity, §6 DHT key conventions: SHA3-512).
func Fingerprint(signingPublicKey []byte) string {
	sum := sha3.Sum512(signingPublicKey)
	return hex.EncodeToString(sum[:])
}
