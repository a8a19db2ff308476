package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dnaproject/dna-core/pkg/apperr"
	"github.com/dnaproject/dna-core/pkg/types"
)

// acceptedMarker is the reciprocal-approval handshake reserved string
// (spec.md §6 DHT key conventions).
const acceptedMarker = "Contact request accepted"

// ContactDisplay is a Contact annotated with the resolved display name and
// presence (spec.md §4.6 Contacts get_contacts).
type ContactDisplay struct {
	types.Contact
	DisplayName string
	Online      bool
	LastSeen    time.Time
}

// ContactRequest is a signed request sitting in a recipient's
// contact-request inbox.
type ContactRequest struct {
	FromFingerprint string
	Message         string
	Notes           string
	Signature       []byte
}

// StartContactListeners is implemented by whatever owns the Listener
// Manager; Contacts calls it after add_contact/approve_contact_request so
// this package stays free of a direct pkg/listenermgr dependency.
// pkg/listenermgr itself imports pkg/handlers, so keeping the edge one-way
// avoids an import cycle as the engine is wired together in pkg/engine.
type StartContactListeners interface {
	StartForContact(fingerprint string) error
	CancelForContact(fingerprint string) error
}

// Contacts implements get_contacts/add_contact/remove_contact and the
// contact-request send/receive/auto-approve handshake (spec.md §4.6).
type Contacts struct {
	deps      Deps
	listeners StartContactListeners
	self      string

	seenMu   sync.Mutex
	seenReqs map[string]bool // "fromFingerprint|message" already surfaced by Fetch
}

func NewContacts(deps Deps, listeners StartContactListeners) *Contacts {
	return &Contacts{deps: deps, listeners: listeners, seenReqs: make(map[string]bool)}
}

// Bind records the fingerprint of the identity this handler now serves,
// set once by the Lifecycle Controller on load_identity.
func (h *Contacts) Bind(selfFingerprint string) { h.self = selfFingerprint }

// List returns every contact with the 5-level display-name fallback and
// presence annotation (cache preferred over DB).
func (h *Contacts) List() ([]*ContactDisplay, error) {
	contacts, err := h.deps.Store.ListContacts()
	if err != nil {
		return nil, err
	}
	out := make([]*ContactDisplay, 0, len(contacts))
	for _, c := range contacts {
		d := &ContactDisplay{Contact: *c, DisplayName: displayName(c)}
		if p, err := h.deps.Store.GetPresence(c.Fingerprint); err == nil {
			d.Online = p.Online(time.Now(), 300*time.Second)
			d.LastSeen = p.LastSeen
		}
		out = append(out, d)
	}
	return out, nil
}

// displayName implements the 5-level fallback: local nickname, DHT
// registered_name, keyserver-cached name, contact-request notes, first 16
// hex chars of the fingerprint.
func displayName(c *types.Contact) string {
	switch {
	case c.Nickname != "":
		return c.Nickname
	case c.RegisteredName != "":
		return c.RegisteredName
	case c.KeyserverName != "":
		return c.KeyserverName
	case c.RequestNotes != "":
		return c.RequestNotes
	case len(c.Fingerprint) >= 16:
		return c.Fingerprint[:16]
	default:
		return c.Fingerprint
	}
}

// Add resolves identifier (a 128-hex fingerprint or a registered name),
// inserts the contact locally, publishes the updated contact list
// asynchronously, and starts an outbox listener for it.
func (h *Contacts) Add(identifier string) error {
	fingerprint, err := h.resolveIdentifier(identifier)
	if err != nil {
		return err
	}
	c := &types.Contact{Fingerprint: fingerprint, AddedAt: time.Now()}
	if err := h.deps.Store.UpsertContact(c); err != nil {
		return err
	}
	go h.publishContactList()
	if h.listeners != nil {
		if err := h.listeners.StartForContact(fingerprint); err != nil {
			return apperr.Wrap(apperr.Network, "start outbox listener", err)
		}
	}
	return nil
}

func (h *Contacts) resolveIdentifier(identifier string) (string, error) {
	if len(identifier) == 128 && isHex(identifier) {
		return identifier, nil
	}
	fp, err := h.deps.DHT.Get(context.Background(), NameRegistrationKey(identifier))
	if err != nil {
		return "", apperr.Wrap(apperr.NotFound, "resolve registered name", err)
	}
	return string(fp), nil
}

func isHex(s string) bool {
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}

// Remove deletes the contact locally, cancels its ACK listener, then
// publishes the updated contact list.
func (h *Contacts) Remove(fingerprint string) error {
	if err := h.deps.Store.DeleteContact(fingerprint); err != nil {
		return err
	}
	if h.listeners != nil {
		if err := h.listeners.CancelForContact(fingerprint); err != nil {
			return apperr.Wrap(apperr.Internal, "cancel ack listener", err)
		}
	}
	h.publishContactList()
	return nil
}

// Block marks an existing contact blocked (spec.md §4.6: blocking is
// local-only, no DHT write). A blocked contact's future contact requests
// are dropped by Fetch instead of surfacing as pending.
func (h *Contacts) Block(fingerprint string) error {
	c, err := h.deps.Store.GetContact(fingerprint)
	if err != nil {
		return err
	}
	c.Blocked = true
	return h.deps.Store.UpsertContact(c)
}

// Unblock clears a contact's blocked flag.
func (h *Contacts) Unblock(fingerprint string) error {
	c, err := h.deps.Store.GetContact(fingerprint)
	if err != nil {
		return err
	}
	c.Blocked = false
	return h.deps.Store.UpsertContact(c)
}

// publishContactList pushes the current fingerprint set to the self-scoped
// addressbook DHT key. A no-op until an identity is bound.
func (h *Contacts) publishContactList() {
	if h.self == "" {
		return
	}
	contacts, err := h.deps.Store.ListContacts()
	if err != nil {
		return
	}
	fingerprints := make([]string, len(contacts))
	for i, c := range contacts {
		fingerprints[i] = c.Fingerprint
	}
	data, err := json.Marshal(fingerprints)
	if err != nil {
		return
	}
	_ = h.deps.DHT.Put(context.Background(), AddressbookKey(h.self), data)
}

// SendRequest publishes a signed contact request to recipientFingerprint's
// request-inbox DHT key, appending it to the request list already stored
// there.
func (h *Contacts) SendRequest(selfFingerprint, recipientFingerprint, message, notes string, sign func([]byte) ([]byte, error)) error {
	req := ContactRequest{FromFingerprint: selfFingerprint, Message: message, Notes: notes}
	payload, err := json.Marshal(req)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "marshal contact request", err)
	}
	sig, err := sign(payload)
	if err != nil {
		return apperr.Wrap(apperr.Crypto, "sign contact request", err)
	}
	req.Signature = sig
	key := ContactRequestInboxKey(recipientFingerprint)
	var inbox []*ContactRequest
	if raw, err := h.deps.DHT.Get(context.Background(), key); err == nil {
		_ = json.Unmarshal(raw, &inbox)
	}
	inbox = append(inbox, &req)
	signed, err := json.Marshal(inbox)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "marshal signed contact request", err)
	}
	if err := h.deps.DHT.Put(context.Background(), key, signed); err != nil {
		return apperr.Wrap(apperr.Network, "publish contact request", err)
	}
	return nil
}

// Fetch reads and filters the self-scoped contact-request inbox: already
// a contact, blocked, or already-surfaced pending requests are dropped. A
// request whose message equals the reserved acceptedMarker string is
// returned separately so the caller can auto-approve it without user
// interaction. Pending-request dedup is in-memory and per-process: it
// survives repeated polls within a run but resets across a restart, the
// same tradeoff the ACK cursor and offline-message dedup make.
func (h *Contacts) Fetch(selfFingerprint string) (pending []*ContactRequest, autoApprove []*ContactRequest, err error) {
	raw, err := h.deps.DHT.Get(context.Background(), ContactRequestInboxKey(selfFingerprint))
	if err != nil {
		if apperr.CodeOf(err) == apperr.NotFound {
			return nil, nil, nil
		}
		return nil, nil, apperr.Wrap(apperr.Network, "fetch contact requests", err)
	}
	var reqs []*ContactRequest
	if err := json.Unmarshal(raw, &reqs); err != nil {
		return nil, nil, apperr.Wrap(apperr.Internal, "decode contact requests", err)
	}
	for _, r := range reqs {
		if _, err := h.deps.Store.GetContact(r.FromFingerprint); err == nil {
			continue // already a contact (blocked or not): never re-surfaces as a request
		}
		if r.Message == acceptedMarker {
			autoApprove = append(autoApprove, r)
			continue
		}

		key := r.FromFingerprint + "|" + r.Message
		h.seenMu.Lock()
		if h.seenReqs[key] {
			h.seenMu.Unlock()
			continue
		}
		h.seenReqs[key] = true
		h.seenMu.Unlock()
		pending = append(pending, r)
	}
	return pending, autoApprove, nil
}

// Approve inserts the requester as a contact, starts the three
// per-contact listeners, and returns the reciprocal approval message that
// the caller must publish back to the requester.
func (h *Contacts) Approve(req *ContactRequest) (reciprocalMessage string, err error) {
	c := &types.Contact{Fingerprint: req.FromFingerprint, RequestNotes: req.Notes, AddedAt: time.Now()}
	if err := h.deps.Store.UpsertContact(c); err != nil {
		return "", err
	}
	if h.listeners != nil {
		if err := h.listeners.StartForContact(req.FromFingerprint); err != nil {
			return "", apperr.Wrap(apperr.Network, "start contact listeners", err)
		}
	}
	return acceptedMarker, nil
}
