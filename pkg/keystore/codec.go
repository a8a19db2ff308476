package keystore

import (
	"encoding/binary"
	"fmt"
)

// encodeKeyPair packs a private/public key pair into one blob: a 4-byte
// big-endian length prefix for the private key, followed by the private
// key bytes, followed by the public key bytes. Key sizes are collaborator-
// defined (pkg/pqcrypto), so no fixed-width struct can hold both KEM and
// signature keys uniformly.
func encodeKeyPair(priv, pub []byte) []byte {
	out := make([]byte, 4+len(priv)+len(pub))
	binary.BigEndian.PutUint32(out[:4], uint32(len(priv)))
	copy(out[4:], priv)
	copy(out[4+len(priv):], pub)
	return out
}

func decodeKeyPair(blob []byte) (priv, pub []byte, err error) {
	if len(blob) < 4 {
		return nil, nil, fmt.Errorf("key blob too short")
	}
	privLen := binary.BigEndian.Uint32(blob[:4])
	rest := blob[4:]
	if uint64(privLen) > uint64(len(rest)) {
		return nil, nil, fmt.Errorf("key blob truncated")
	}
	priv = rest[:privLen]
	pub = rest[privLen:]
	return priv, pub, nil
}

func decodeMaterial(dsaBlob, kemBlob, mnemonic []byte) (*Material, error) {
	signingPriv, signingPub, err := decodeKeyPair(dsaBlob)
	if err != nil {
		return nil, fmt.Errorf("signing key pair: %w", err)
	}
	encPriv, encPub, err := decodeKeyPair(kemBlob)
	if err != nil {
		return nil, fmt.Errorf("encryption key pair: %w", err)
	}
	return &Material{
		SigningPrivateKey:    signingPriv,
		SigningPublicKey:     signingPub,
		EncryptionPrivateKey: encPriv,
		EncryptionPublicKey:  encPub,
		Mnemonic:             mnemonic,
	}, nil
}
