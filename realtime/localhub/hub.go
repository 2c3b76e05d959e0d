// Defines an in-process implementation of the push capability. Inserts written
// through the wrapped store are delivered synchronously to every subscription
// for the row's conversation. Used in tests and single-process deployments.
package localhub

import (
	"sync"

	"github.com/hearsay-im/go-hearsay/config"
	"github.com/hearsay-im/go-hearsay/realtime"
	"github.com/hearsay-im/go-hearsay/store"
	"github.com/hearsay-im/go-hearsay/timeline"
	"go.uber.org/zap"
)

type subscription struct {
	hub      *Hub
	chatID   string
	id       int
	onInsert func(*timeline.Message)
	onStatus func(connected bool)
}

func (s *subscription) Unsubscribe() error {
	s.hub.remove(s.chatID, s.id)
	return nil
}

type Hub struct {
	log    *zap.SugaredLogger
	lock   sync.Mutex
	nextID int
	subs   map[string]map[int]*subscription
}

func NewHub(c *config.Config) *Hub {
	return &Hub{
		log:  c.Logger("realtime/localhub"),
		subs: make(map[string]map[int]*subscription),
	}
}

// Subscribe registers for inserts on one conversation. The handshake is
// acknowledged synchronously.
func (h *Hub) Subscribe(chatID string, onInsert func(*timeline.Message), onStatus func(connected bool)) (realtime.Subscription, error) {
	h.lock.Lock()
	h.nextID++
	s := &subscription{hub: h, chatID: chatID, id: h.nextID, onInsert: onInsert, onStatus: onStatus}
	if _, ok := h.subs[chatID]; !ok {
		h.subs[chatID] = make(map[int]*subscription)
	}
	h.subs[chatID][s.id] = s
	h.lock.Unlock()
	onStatus(true)
	return s, nil
}

// Publish delivers a row to every subscription for its conversation.
func (h *Hub) Publish(row *timeline.Message) {
	h.lock.Lock()
	targets := make([]*subscription, 0, len(h.subs[row.ChatID]))
	for _, s := range h.subs[row.ChatID] {
		targets = append(targets, s)
	}
	h.lock.Unlock()
	for _, s := range targets {
		s.onInsert(row)
	}
}

// DropConnections simulates a network loss for one conversation: every
// subscription is removed and notified.
func (h *Hub) DropConnections(chatID string) {
	h.lock.Lock()
	targets := make([]*subscription, 0, len(h.subs[chatID]))
	for _, s := range h.subs[chatID] {
		targets = append(targets, s)
	}
	delete(h.subs, chatID)
	h.lock.Unlock()
	for _, s := range targets {
		s.onStatus(false)
	}
}

func (h *Hub) remove(chatID string, id int) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if m, ok := h.subs[chatID]; ok {
		delete(m, id)
		if len(m) == 0 {
			delete(h.subs, chatID)
		}
	}
}

// Backend pairs a message store with the hub, publishing each successful insert
// so in-process subscribers see the authoritative row.
type Backend struct {
	inner store.MessageStore
	hub   *Hub
}

func NewBackend(inner store.MessageStore, hub *Hub) *Backend {
	return &Backend{inner: inner, hub: hub}
}

func (b *Backend) Insert(msg *timeline.Message) (*timeline.Message, error) {
	stored, err := b.inner.Insert(msg)
	if err != nil {
		return nil, err
	}
	b.hub.Publish(stored)
	return stored, nil
}

func (b *Backend) List(chatID string, limit int) ([]*timeline.Message, error) {
	return b.inner.List(chatID, limit)
}

func (b *Backend) LastMessage(chatID string) (*timeline.Message, error) {
	return b.inner.LastMessage(chatID)
}

func (b *Backend) Subscribe(chatID string, onInsert func(*timeline.Message), onStatus func(connected bool)) (realtime.Subscription, error) {
	return b.hub.Subscribe(chatID, onInsert, onStatus)
}
