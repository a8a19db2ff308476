package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dnaproject/dna-core/pkg/apperr"
	"github.com/dnaproject/dna-core/pkg/types"
)

// Groups implements get_groups/get_group_info/create_group/
// send_group_message/add_group_member/remove_group_member (spec.md §4.6
// Groups). Only the creator may remove a member; removal bumps GEKVersion
// so the Messaging collaborator rotates the group encryption key.
type Groups struct {
	deps Deps
	self string
}

func NewGroups(deps Deps) *Groups {
	return &Groups{deps: deps}
}

func (h *Groups) Bind(selfFingerprint string) { h.self = selfFingerprint }

// List syncs every local group from its DHT topic, then returns the cache.
func (h *Groups) List() ([]*types.Group, error) {
	groups, err := h.deps.Store.ListGroups()
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		h.syncFromDHT(g)
	}
	return h.deps.Store.ListGroups()
}

// Info syncs then returns one group's cached record.
func (h *Groups) Info(groupID string) (*types.Group, error) {
	g, err := h.deps.Store.GetGroup(groupID)
	if err != nil {
		return nil, err
	}
	h.syncFromDHT(g)
	return h.deps.Store.GetGroup(groupID)
}

// Members syncs then returns one group's member list.
func (h *Groups) Members(groupID string) ([]string, error) {
	g, err := h.Info(groupID)
	if err != nil {
		return nil, err
	}
	return g.Members, nil
}

func (h *Groups) syncFromDHT(g *types.Group) {
	raw, err := h.deps.DHT.Get(context.Background(), GroupTopicKey(g.ID))
	if err != nil {
		return
	}
	var remote types.Group
	if err := json.Unmarshal(raw, &remote); err != nil {
		return
	}
	g.Members = remote.Members
	g.GEKVersion = remote.GEKVersion
	g.Name = remote.Name
	_ = h.deps.Store.UpsertGroup(g)
}

// Create mints a new group UUID, stores it locally, and publishes it to
// the group's DHT topic.
func (h *Groups) Create(name string, members []string) (*types.Group, error) {
	g := &types.Group{
		ID:                 uuid.NewString(),
		Name:               name,
		CreatorFingerprint: h.self,
		Members:            append([]string{h.self}, members...),
		GEKVersion:         1,
		CreatedAt:          time.Now(),
	}
	if err := h.deps.Store.UpsertGroup(g); err != nil {
		return nil, err
	}
	h.publish(g)
	return g, nil
}

func (h *Groups) publish(g *types.Group) {
	data, err := json.Marshal(g)
	if err != nil {
		return
	}
	_ = h.deps.DHT.Put(context.Background(), GroupTopicKey(g.ID), data)
}

// SendMessage publishes a message to the group's topic and records it in
// the local conversation store. Group messages are marked SENT on
// successful publish and never transition to RECEIVED, since there is no
// single ACK cursor for a multi-member group (DESIGN.md open question).
func (h *Groups) SendMessage(groupID, messageType string, plaintext []byte) (*types.OutgoingMessage, error) {
	g, err := h.deps.Store.GetGroup(groupID)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(wireMessage{Ciphertext: plaintext, MessageType: messageType, SentAt: time.Now()})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "marshal group message", err)
	}
	msg := &types.OutgoingMessage{
		ID:          generateMessageID(),
		GroupID:     g.ID,
		MessageType: messageType,
		Plaintext:   plaintext,
		CreatedAt:   time.Now(),
		IsOutgoing:  true,
	}
	if err := h.deps.DHT.Put(context.Background(), GroupMessageKey(g.ID, msg.ID), data); err != nil {
		msg.Status = types.MessageFailed
	} else {
		msg.Status = types.MessageSent
	}
	if err := h.deps.Store.SaveMessage(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Conversation returns a group's messages ascending by time.
func (h *Groups) Conversation(groupID string) ([]*types.OutgoingMessage, error) {
	return h.deps.Store.ListGroupConversation(groupID)
}

// AddMember appends fingerprint to the group and republishes.
func (h *Groups) AddMember(groupID, fingerprint string) error {
	g, err := h.deps.Store.GetGroup(groupID)
	if err != nil {
		return err
	}
	for _, m := range g.Members {
		if m == fingerprint {
			return nil
		}
	}
	g.Members = append(g.Members, fingerprint)
	if err := h.deps.Store.UpsertGroup(g); err != nil {
		return err
	}
	h.publish(g)
	return nil
}

// RemoveMember removes fingerprint from the group and bumps GEKVersion to
// trigger a group encryption key rotation. Only the creator may remove a
// member (spec.md §4.6 Groups).
func (h *Groups) RemoveMember(actorFingerprint, groupID, fingerprint string) error {
	g, err := h.deps.Store.GetGroup(groupID)
	if err != nil {
		return err
	}
	if g.CreatorFingerprint != actorFingerprint {
		return apperr.New(apperr.Permission, "only the group creator may remove a member")
	}
	members := g.Members[:0]
	for _, m := range g.Members {
		if m != fingerprint {
			members = append(members, m)
		}
	}
	g.Members = members
	g.GEKVersion++
	if err := h.deps.Store.UpsertGroup(g); err != nil {
		return err
	}
	h.publish(g)
	return nil
}

// AcceptInvitation adds the local identity to g's member list and saves
// the group in the local store. It does not subscribe to the group's DHT
// topic, publish the updated membership, or resync the GEK or messages.
func (h *Groups) AcceptInvitation(g *types.Group) error {
	found := false
	for _, m := range g.Members {
		if m == h.self {
			found = true
			break
		}
	}
	if !found {
		g.Members = append(g.Members, h.self)
	}
	return h.deps.Store.UpsertGroup(g)
}
