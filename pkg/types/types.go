package types

import (
	"sync/atomic"
	"time"
)

// Identity is the single loaded identity the engine owns for the lifetime
// of the process (spec.md §3 Identity). Key material itself lives in
// pkg/keystore; this struct carries only what the rest of the engine needs
// to reference an identity by value.
type Identity struct {
	Fingerprint         string // 128-hex, content-derived from the signing public key
	Name                string
	SigningPublicKey    []byte
	EncryptionPublicKey []byte
	CreatedAt           time.Time
}

// EngineState is the Lifecycle Controller's finite state (spec.md §3, §4.10).
type EngineState string

const (
	StateUnloaded EngineState = "UNLOADED"
	StateActive   EngineState = "ACTIVE"
	StatePaused   EngineState = "PAUSED"
)

// TaskType selects which handler family and method dispatches a Task.
type TaskType string

const (
	TaskCreateIdentity       TaskType = "identity.create"
	TaskLoadIdentity         TaskType = "identity.load"
	TaskDeleteIdentity       TaskType = "identity.delete"
	TaskGetContacts          TaskType = "contacts.list"
	TaskAddContact           TaskType = "contacts.add"
	TaskRemoveContact        TaskType = "contacts.remove"
	TaskSendContactRequest   TaskType = "contacts.request.send"
	TaskApproveContactReq    TaskType = "contacts.request.approve"
	TaskSendMessage          TaskType = "messaging.send"
	TaskQueueMessage         TaskType = "messaging.queue"
	TaskGetConversation      TaskType = "messaging.conversation.get"
	TaskCheckOfflineMessages TaskType = "messaging.offline.check"
	TaskGetGroups            TaskType = "groups.list"
	TaskGetGroupInfo         TaskType = "groups.info"
	TaskCreateGroup          TaskType = "groups.create"
	TaskSendGroupMessage     TaskType = "groups.message.send"
	TaskAddGroupMember       TaskType = "groups.member.add"
	TaskRemoveGroupMember    TaskType = "groups.member.remove"
	TaskListWallets          TaskType = "wallet.list"
	TaskGetBalances          TaskType = "wallet.balances"
	TaskSendTokens           TaskType = "wallet.send"
	TaskGetTransactions      TaskType = "wallet.transactions"
	TaskGetProfile           TaskType = "profile.get"
	TaskUpdateProfile        TaskType = "profile.update"
	TaskBackupMessages       TaskType = "backup.messages"
	TaskRestoreMessages      TaskType = "backup.restore"
	TaskSyncAddressbook      TaskType = "sync.addressbook"
	TaskGetFeed              TaskType = "feed.get"
	TaskPostFeedItem         TaskType = "feed.post"
)

// Result is the payload a handler hands back through a Task's callback. It
// carries either a Value of whatever shape the task family returns, or a
// non-nil Err (an *apperr.Error in practice; typed as error here to keep
// pkg/types free of an import cycle with pkg/apperr).
type Result struct {
	Value any
	Err   error
}

// Task is one unit of work submitted to the Task Queue (spec.md §3 Task,
// §4.4). RequestID is allocated by pkg/registry before the task is pushed.
// Callback is invoked exactly once, whether the task runs to completion,
// fails, or is cancelled before a worker starts it.
type Task struct {
	RequestID uint64
	Type      TaskType
	Params    any
	UserData  any
	Callback  func(Result)

	cancelled atomic.Bool
}

// Cancel marks the task cancelled. A worker that has not yet started this
// task's handler will skip execution and invoke Callback with a
// cancellation error instead.
func (t *Task) Cancel() { t.cancelled.Store(true) }

// Cancelled reports whether Cancel has been called.
func (t *Task) Cancelled() bool { return t.cancelled.Load() }

// ListenerClass names one of the four listener registries (spec.md §4.7).
type ListenerClass string

const (
	ListenerOutbox         ListenerClass = "outbox"
	ListenerPresence       ListenerClass = "presence"
	ListenerContactRequest ListenerClass = "contact_request"
	ListenerACK            ListenerClass = "ack"
)

// ListenerDescriptor is one subscription the Listener Manager owns
// (spec.md §3 Listener Descriptor). DayBucket applies only to Outbox
// descriptors; LastKnownACK applies only to ACK descriptors.
type ListenerDescriptor struct {
	Class        ListenerClass
	KeyID        string // contact fingerprint, or a fixed key for self-scoped classes
	Token        string // opaque DHT subscription token
	Active       bool
	DayBucket    int
	LastKnownACK time.Time
}

// MessageStatus is the v15 status domain for outgoing messages
// (spec.md §3 Outgoing Message). Status may only advance forward or to
// Failed.
type MessageStatus int

const (
	MessagePending  MessageStatus = 0
	MessageSent     MessageStatus = 1
	MessageReceived MessageStatus = 2
	MessageFailed   MessageStatus = 3
)

// OutgoingMessage is tracked by the Delivery Engine for retry until it is
// acknowledged or goes stale (spec.md §3, §4.8).
type OutgoingMessage struct {
	ID          string
	Recipient   string
	GroupID     string // empty for a direct message
	Plaintext   []byte
	MessageType string
	CreatedAt   time.Time
	RetryCount  int
	Status      MessageStatus
	// IsOutgoing is true when self sent this message, false when it was
	// received from Recipient (spec.md get_conversation's is_outgoing field).
	IsOutgoing bool
}

// IsGroup reports whether this message targets a group rather than a
// single recipient.
func (m OutgoingMessage) IsGroup() bool { return m.GroupID != "" }

// SendQueueEntry is one reserved slot in the Message Send Queue
// (spec.md §3, §4.11).
type SendQueueEntry struct {
	SlotID    uint64
	Recipient string
	GroupID   string
	Plaintext []byte
	QueuedAt  time.Time
	InUse     bool
}

// PresenceRecord is the best-effort in-memory presence cache entry keyed
// by fingerprint (spec.md §3). The DHT presence key is authoritative;
// Online is derived as (now - LastSeen) < TTL.
type PresenceRecord struct {
	Fingerprint string
	LastSeen    time.Time
}

// Online reports presence using the TTL spec.md §3 specifies (300s).
func (p PresenceRecord) Online(now time.Time, ttl time.Duration) bool {
	return now.Sub(p.LastSeen) < ttl
}

// EventType tags the variant carried by Event (spec.md §3 Event, §6).
type EventType string

const (
	EventIdentityLoaded         EventType = "IDENTITY_LOADED"
	EventMessageSent            EventType = "MESSAGE_SENT"
	EventMessageDelivered       EventType = "MESSAGE_DELIVERED"
	EventOutboxUpdated          EventType = "OUTBOX_UPDATED"
	EventContactRequestReceived EventType = "CONTACT_REQUEST_RECEIVED"
)

// Event is one entry in the engine's event stream to the UI. Events from a
// single listener are totally ordered; events across listeners are only
// partially ordered (spec.md §3).
type Event struct {
	Type        EventType
	Timestamp   time.Time
	Fingerprint string // IDENTITY_LOADED, CONTACT_REQUEST_RECEIVED
	MessageID   string // MESSAGE_SENT
	NewStatus   MessageStatus
	Recipient   string // MESSAGE_SENT, MESSAGE_DELIVERED, OUTBOX_UPDATED (contact fingerprint)
	SeqNum      uint64 // MESSAGE_DELIVERED
}

// Contact is a local contact-list entry. Display-name resolution (the
// five-level fallback of spec.md §4.6 Contacts) lives in pkg/handlers;
// this struct carries every input that fallback reads.
type Contact struct {
	Fingerprint    string
	Nickname       string // local-only
	RegisteredName string // DHT profile registered_name
	KeyserverName  string // keyserver-cached name
	RequestNotes   string // notes field captured at contact-request time
	Blocked        bool   // local-only
	AddedAt        time.Time
}

// Group is a local group cache entry (spec.md §4.6 Groups).
type Group struct {
	ID                 string // UUID
	Name               string
	CreatorFingerprint string
	Members            []string
	GEKVersion         int // bumped on membership removal
	CreatedAt          time.Time
}

// WalletChain names one of the chains the Wallet handler derives keys for.
type WalletChain string

const (
	ChainETH       WalletChain = "eth"
	ChainSOL       WalletChain = "sol"
	ChainTRX       WalletChain = "trx"
	ChainCellframe WalletChain = "cellframe"
)

// Wallet is a derived or imported wallet record (spec.md §4.6 Wallet).
type Wallet struct {
	Index     int
	Chain     WalletChain
	Address   string
	CreatedAt time.Time
}

// TransactionDirection distinguishes incoming from outgoing transfers in
// the uniform transaction record wallet history is mapped into.
type TransactionDirection string

const (
	TransactionIn  TransactionDirection = "in"
	TransactionOut TransactionDirection = "out"
)

// Transaction is the uniform per-chain history record spec.md §4.6 Wallet
// describes `get_transactions` as producing.
type Transaction struct {
	Hash        string
	Direction   TransactionDirection
	OtherParty  string
	Amount      string // decimal string; chains vary in precision
	Token       string
	Timestamp   time.Time
	Status      string
}
