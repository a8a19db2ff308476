package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dnaproject/dna-core/pkg/apperr"
)

// FeedItem is the minimal item shape Feed exposes; the feed/forum
// content model itself is an external collaborator (spec.md §1).
type FeedItem struct {
	ID       string
	Author   string
	Body     string
	PostedAt time.Time
}

// Feed is a stub for the out-of-scope feed/forum content model: just
// enough of a GetFeed/PostFeedItem shape for the task dispatcher to route
// to, backed by a single self-scoped DHT key (SPEC_FULL.md §4).
type Feed struct {
	deps Deps
	self string
}

func NewFeed(deps Deps) *Feed {
	return &Feed{deps: deps}
}

func (h *Feed) Bind(selfFingerprint string) { h.self = selfFingerprint }

// Get fetches the feed items published under authorFingerprint's feed DHT
// key; nothing is cached locally.
func (h *Feed) Get(authorFingerprint string) ([]*FeedItem, error) {
	raw, err := h.deps.DHT.Get(context.Background(), FeedKey(authorFingerprint))
	if err != nil {
		if apperr.CodeOf(err) == apperr.NotFound {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.Network, "fetch feed", err)
	}
	var items []*FeedItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "decode feed", err)
	}
	return items, nil
}

// Post appends body as a new feed item under the loaded identity and
// republishes the full feed.
func (h *Feed) Post(body string) (*FeedItem, error) {
	items, err := h.Get(h.self)
	if err != nil {
		return nil, err
	}
	item := &FeedItem{ID: generateMessageID(), Author: h.self, Body: body, PostedAt: time.Now()}
	items = append(items, item)
	data, err := json.Marshal(items)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "marshal feed", err)
	}
	if err := h.deps.DHT.Put(context.Background(), FeedKey(h.self), data); err != nil {
		return nil, apperr.Wrap(apperr.Network, "publish feed", err)
	}
	return item, nil
}
