package handlers

import (
	"fmt"

	"golang.org/x/crypto/sha3"
)

// DHT key conventions consumed by the core (spec.md §6). Every key that
// the spec says is "hashed by DHT" is built as the literal string the DHT
// node itself hashes; keys the spec gives as an explicit SHA3-512
// expression are hashed here so the facade never sees anything but the
// final key bytes. Exported so pkg/listenermgr can address the same DHT
// slots its registries subscribe to without duplicating the convention.

func HashKey(s string) []byte {
	sum := sha3.Sum512([]byte(s))
	return sum[:]
}

func ContactRequestInboxKey(fingerprint string) []byte {
	return HashKey(fingerprint + ":requests")
}

func PresenceKey(fingerprint string) []byte {
	return HashKey(fingerprint)
}

func OutboxKey(recipientFingerprint, senderFingerprint string, dayBucket int) []byte {
	return []byte(fmt.Sprintf("%s:outbox:%s:%d", recipientFingerprint, senderFingerprint, dayBucket))
}

func AckKey(recipientFingerprint, senderFingerprint string) []byte {
	return HashKey(recipientFingerprint + ":ack:" + senderFingerprint)
}

func NameRegistrationKey(name string) []byte {
	return HashKey(name + ":name")
}

func AddressbookKey(selfFingerprint string) []byte {
	return HashKey(selfFingerprint + ":addressbook")
}

func GroupTopicKey(groupID string) []byte {
	return HashKey(groupID + ":group")
}

func GroupMessageKey(groupID, messageID string) []byte {
	return HashKey(groupID + ":msg:" + messageID)
}

func ProfileKey(fingerprint string) []byte {
	return HashKey(fingerprint + ":profile")
}

func BackupKey(selfFingerprint, kind string) []byte {
	return HashKey(selfFingerprint + ":backup:" + kind)
}

func FeedKey(authorFingerprint string) []byte {
	return HashKey(authorFingerprint + ":feed")
}

// VersionRecordKey is the signed-permanent version record spec.md §6
// names, with its fixed value-id 1.
var VersionRecordKey = HashKey("dna:system:version")

const VersionRecordValueID uint64 = 1
