package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dnaproject/dna-core/pkg/apperr"
	"github.com/dnaproject/dna-core/pkg/metrics"
	"github.com/dnaproject/dna-core/pkg/pqcrypto"
	"github.com/dnaproject/dna-core/pkg/types"
)

// wireMessage is what actually goes into a recipient's outbox slot: the
// encrypted payload plus the plaintext metadata an outbox listener needs
// without decrypting (message type, send time).
type wireMessage struct {
	KEMCiphertext []byte
	Ciphertext    []byte
	MessageType   string
	SentAt        time.Time
}

// Messaging implements send_message/get_conversation/check_offline_messages
// (spec.md §4.6 Messaging). Encryption is delegated to a Crypto suite
// shared with the rest of the engine; the KEY_UNAVAILABLE short-circuit
// and non-persistence on unknown recipients is load-bearing (spec.md §7).
type Messaging struct {
	deps    Deps
	self    string
	encPriv []byte

	receivedMu   sync.Mutex
	lastReceived map[string]time.Time
}

func NewMessaging(deps Deps) *Messaging {
	return &Messaging{deps: deps, lastReceived: make(map[string]time.Time)}
}

// Bind records the loaded identity's fingerprint and encryption private
// key. The key is held only in memory and cleared by Unbind on
// identity.unload/shutdown (spec.md §3 Identity invariant).
func (h *Messaging) Bind(selfFingerprint string, encryptionPrivateKey []byte) {
	h.self = selfFingerprint
	h.encPriv = encryptionPrivateKey
}

// Unbind zeroizes the retained encryption private key. Called on
// identity.unload and engine shutdown.
func (h *Messaging) Unbind() {
	pqcrypto.Zeroize(h.encPriv)
	h.encPriv = nil
}

// Send encrypts plaintext to recipientFingerprint's encryption public key
// (resolved from the profile cache) and publishes it to their DM outbox.
// A KeyUnavailable recipient is never persisted, so no retry loop starts
// for it (spec.md §4.6, §7).
func (h *Messaging) Send(recipientFingerprint, messageType string, plaintext []byte) (*types.OutgoingMessage, error) {
	profile, err := h.deps.Store.GetProfileCache(recipientFingerprint)
	if err != nil {
		return nil, apperr.New(apperr.KeyUnavailable, "no cached encryption key for recipient")
	}

	kemCiphertext, sharedSecret, err := h.deps.Crypto.KEM.Encapsulate(profile.EncryptionPublicKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.Crypto, "encapsulate", err)
	}
	nonce := make([]byte, h.deps.Crypto.AEAD.NonceSize())
	ciphertext := h.deps.Crypto.AEAD.Seal(sharedSecret[:h.deps.Crypto.AEAD.KeySize()], nonce, plaintext, nil)

	msg := &types.OutgoingMessage{
		ID:          generateMessageID(),
		Recipient:   recipientFingerprint,
		MessageType: messageType,
		Plaintext:   plaintext,
		CreatedAt:   time.Now(),
		Status:      types.MessagePending,
		IsOutgoing:  true,
	}

	wire := wireMessage{KEMCiphertext: kemCiphertext, Ciphertext: ciphertext, MessageType: messageType, SentAt: msg.CreatedAt}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "marshal wire message", err)
	}

	dayBucket := int(time.Now().UTC().Unix() / 86400)
	putTimer := metrics.NewTimer()
	putErr := h.deps.DHT.Put(context.Background(), OutboxKey(recipientFingerprint, h.self, dayBucket), data)
	putTimer.ObserveDurationVec(metrics.DHTPutDuration, "outbox")
	if putErr != nil {
		msg.Status = types.MessageFailed
	} else {
		msg.Status = types.MessageSent
	}
	if err := h.deps.Store.SaveMessage(msg); err != nil {
		return nil, err
	}
	metrics.MessagesSentTotal.Inc()

	if h.deps.Dispatch != nil {
		h.deps.Dispatch.Dispatch(types.Event{
			Type:      types.EventMessageSent,
			Timestamp: time.Now(),
			MessageID: msg.ID,
			NewStatus: msg.Status,
			Recipient: recipientFingerprint,
		})
	}
	if putErr != nil {
		return msg, apperr.Wrap(apperr.Network, "publish to outbox", putErr)
	}
	return msg, nil
}

// Resend return codes (spec.md §4.8 Delivery Engine retry protocol). The
// Delivery Engine switches on these instead of inspecting errors because
// KeyUnavailable must NOT advance the retry counter while every other
// failure must.
const (
	ResendQueued         = 0
	ResendDuplicate      = 1
	ResendFailed         = -1
	ResendKeyUnavailable = -3
)

// Resend re-encapsulates an existing outgoing message's stored plaintext
// and republishes it to the recipient's current DM outbox slot, without
// minting a new message ID. A missing recipient key returns
// ResendKeyUnavailable rather than marking the message failed, so the Delivery
// Engine knows not to burn a retry on a message it can never deliver yet.
func (h *Messaging) Resend(m *types.OutgoingMessage) (int, error) {
	profile, err := h.deps.Store.GetProfileCache(m.Recipient)
	if err != nil {
		return ResendKeyUnavailable, apperr.New(apperr.KeyUnavailable, "no cached encryption key for recipient")
	}

	kemCiphertext, sharedSecret, err := h.deps.Crypto.KEM.Encapsulate(profile.EncryptionPublicKey)
	if err != nil {
		return ResendFailed, apperr.Wrap(apperr.Crypto, "encapsulate", err)
	}
	nonce := make([]byte, h.deps.Crypto.AEAD.NonceSize())
	ciphertext := h.deps.Crypto.AEAD.Seal(sharedSecret[:h.deps.Crypto.AEAD.KeySize()], nonce, m.Plaintext, nil)

	sentAt := time.Now()
	wire := wireMessage{KEMCiphertext: kemCiphertext, Ciphertext: ciphertext, MessageType: m.MessageType, SentAt: sentAt}
	data, err := json.Marshal(wire)
	if err != nil {
		return ResendFailed, apperr.Wrap(apperr.Internal, "marshal wire message", err)
	}

	dayBucket := int(sentAt.UTC().Unix() / 86400)
	existing, getErr := h.deps.DHT.Get(context.Background(), OutboxKey(m.Recipient, h.self, dayBucket))
	if putErr := h.deps.DHT.Put(context.Background(), OutboxKey(m.Recipient, h.self, dayBucket), data); putErr != nil {
		return ResendFailed, apperr.Wrap(apperr.Network, "publish to outbox", putErr)
	}
	if getErr == nil && len(existing) > 0 {
		return ResendDuplicate, nil
	}
	return ResendQueued, nil
}

// Conversation returns every direct message with peerFingerprint in
// ascending send order.
func (h *Messaging) Conversation(peerFingerprint string) ([]*types.OutgoingMessage, error) {
	return h.deps.Store.ListConversation(peerFingerprint)
}

// ConversationPage returns a page of up to pageSize messages, offset from
// the end (the newest message is index 0).
func (h *Messaging) ConversationPage(peerFingerprint string, offset, pageSize int) ([]*types.OutgoingMessage, error) {
	all, err := h.deps.Store.ListConversation(peerFingerprint)
	if err != nil {
		return nil, err
	}
	start := len(all) - offset - pageSize
	end := len(all) - offset
	if end > len(all) {
		end = len(all)
	}
	if end < 0 {
		return nil, nil
	}
	if start < 0 {
		start = 0
	}
	return all[start:end], nil
}

// OfflineSyncResult reports per-contact unread deltas (spec.md §4.6
// check_offline_messages).
type OfflineSyncResult struct {
	UpdatedContacts []string
}

// CheckOffline fetches new messages from every contact's outbox, decrypts
// and persists any not already seen, optionally publishes ACKs, and emits
// OUTBOX_UPDATED for any contact whose unread count increased.
func (h *Messaging) CheckOffline(publishAcks bool) (*OfflineSyncResult, error) {
	contacts, err := h.deps.Store.ListContacts()
	if err != nil {
		return nil, err
	}
	result := &OfflineSyncResult{}
	for _, c := range contacts {
		dayBucket := int(time.Now().UTC().Unix() / 86400)
		raw, err := h.deps.DHT.Get(context.Background(), OutboxKey(h.self, c.Fingerprint, dayBucket))
		if err != nil {
			continue
		}
		saved, err := h.ReceiveWire(c.Fingerprint, raw)
		if err != nil {
			continue
		}
		if saved {
			result.UpdatedContacts = append(result.UpdatedContacts, c.Fingerprint)
			if h.deps.Dispatch != nil {
				h.deps.Dispatch.Dispatch(types.Event{
					Type:      types.EventOutboxUpdated,
					Timestamp: time.Now(),
					Recipient: c.Fingerprint,
				})
			}
		}
		if publishAcks {
			_ = h.deps.DHT.Put(context.Background(), AckKey(c.Fingerprint, h.self), []byte(time.Now().Format(time.RFC3339)))
		}
	}
	return result, nil
}

// ReceiveWire decapsulates and opens a wire message published by
// senderFingerprint and saves it as an incoming message, deduping on the
// wire message's SentAt so a repeated poll or replayed delivery doesn't
// save the same message twice (mirrors the ACK cursor's
// strictly-newer-timestamp rule). Returns whether a new message was saved.
func (h *Messaging) ReceiveWire(senderFingerprint string, raw []byte) (bool, error) {
	var wire wireMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		return false, apperr.Wrap(apperr.Internal, "unmarshal wire message", err)
	}

	h.receivedMu.Lock()
	prev, ok := h.lastReceived[senderFingerprint]
	if ok && !wire.SentAt.After(prev) {
		h.receivedMu.Unlock()
		return false, nil
	}
	h.lastReceived[senderFingerprint] = wire.SentAt
	h.receivedMu.Unlock()

	if len(h.encPriv) == 0 {
		return false, apperr.New(apperr.KeyUnavailable, "no encryption key bound to decrypt incoming message")
	}

	sharedSecret, err := h.deps.Crypto.KEM.Decapsulate(h.encPriv, wire.KEMCiphertext)
	if err != nil {
		return false, apperr.Wrap(apperr.Crypto, "decapsulate", err)
	}
	nonce := make([]byte, h.deps.Crypto.AEAD.NonceSize())
	plaintext, err := h.deps.Crypto.AEAD.Open(sharedSecret[:h.deps.Crypto.AEAD.KeySize()], nonce, wire.Ciphertext, nil)
	if err != nil {
		return false, apperr.Wrap(apperr.Crypto, "open", err)
	}

	msg := &types.OutgoingMessage{
		ID:          generateMessageID(),
		Recipient:   senderFingerprint,
		MessageType: wire.MessageType,
		Plaintext:   plaintext,
		CreatedAt:   wire.SentAt,
		Status:      types.MessageReceived,
		IsOutgoing:  false,
	}
	if err := h.deps.Store.SaveMessage(msg); err != nil {
		return false, err
	}
	metrics.MessagesReceivedTotal.Inc()
	return true, nil
}

var messageSeq atomic.Uint64

// generateMessageID mints a locally-unique message ID. A counter
// (rather than a random UUID) keeps Send usable from deterministic tests.
func generateMessageID() string {
	n := messageSeq.Add(1)
	return time.Now().UTC().Format("20060102T150405") + "-" + itoa(n)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
