// This package owns the in-memory ordered message timeline for one conversation.
// It merges optimistic local entries, bulk-fetched history and live-pushed
// inserts into one deduplicated view, ordered by created_at ascending.
package timeline

import (
	"sort"
	"sync"

	"github.com/hearsay-im/go-hearsay/clock"
	"github.com/hearsay-im/go-hearsay/config"
	"github.com/hearsay-im/go-hearsay/envelope"
	"github.com/hearsay-im/go-hearsay/ids"
	"go.uber.org/zap"
)

// Message is one persisted row. CreatedAt is an ISO-8601 string rendered through
// clock.Timestamp, so lexicographic order is chronological order.
type Message struct {
	ID             string               `db:"id" json:"id"`
	ChatID         string               `db:"chat_id" json:"chat_id"`
	SenderDeviceID string               `db:"sender_device_id" json:"sender_device_id"`
	Ciphertext     string               `db:"ciphertext" json:"ciphertext"`
	Nonce          string               `db:"nonce" json:"nonce"`
	MessageType    envelope.MessageType `db:"message_type" json:"message_type"`
	CreatedAt      string               `db:"created_at" json:"created_at"`
}

func (m *Message) clone() *Message {
	c := *m
	return &c
}

// An event indicating the timeline for a conversation changed.
type Update struct {
	ChatID string
}

type Reconciler struct {
	log   *zap.SugaredLogger
	clock clock.Clock

	lock     sync.Mutex
	messages []*Message
	byID     map[string]*Message
	// optimistic entries awaiting their server-confirmed counterpart, by nonce
	pending map[string]*Message
}

func NewReconciler(c *config.Config, cl clock.Clock) *Reconciler {
	return &Reconciler{
		log:     c.Logger("timeline"),
		clock:   cl,
		byID:    make(map[string]*Message),
		pending: make(map[string]*Message),
	}
}

// LoadInitial replaces the timeline with bulk-fetched rows, already
// server-ordered. Prior state is discarded wholesale.
func (r *Reconciler) LoadInitial(rows []*Message) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.messages = make([]*Message, 0, len(rows))
	r.byID = make(map[string]*Message, len(rows))
	r.pending = make(map[string]*Message)
	for _, row := range rows {
		if row == nil || row.ID == "" {
			continue
		}
		if _, ok := r.byID[row.ID]; ok {
			continue
		}
		m := row.clone()
		r.messages = append(r.messages, m)
		r.byID[m.ID] = m
	}
}

// NewLocalMessage makes an optimistic row for a send, with a temporary id, a
// fresh nonce and the current local clock as created_at.
func (r *Reconciler) NewLocalMessage(chatID, senderDeviceID, ciphertext string, messageType envelope.MessageType) *Message {
	return &Message{
		ID:             ids.NewLocalID(),
		ChatID:         chatID,
		SenderDeviceID: senderDeviceID,
		Ciphertext:     ciphertext,
		Nonce:          ids.NewNonce(),
		MessageType:    messageType,
		CreatedAt:      clock.Timestamp(r.clock.Now()),
	}
}

// AppendLocalOptimistic inserts a locally-originated row so it is visible before
// the network round-trip for the send completes. No-ops if the id is already
// present.
func (r *Reconciler) AppendLocalOptimistic(row *Message) {
	if row == nil || row.ID == "" {
		return
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.byID[row.ID]; ok {
		return
	}
	m := row.clone()
	if m.CreatedAt == "" {
		m.CreatedAt = clock.Timestamp(r.clock.Now())
	}
	r.insertOrdered(m)
	r.byID[m.ID] = m
	if m.Nonce != "" {
		r.pending[m.Nonce] = m
	}
}

// MergeRemote applies one pushed or refetched row. It never fails: malformed
// rows are dropped with no state change, duplicate ids no-op. A row whose nonce
// matches a pending optimistic entry replaces that entry atomically, so the
// echo of a send never produces a second visible row.
func (r *Reconciler) MergeRemote(row *Message) {
	if row == nil || row.ID == "" {
		r.log.Debug("dropping malformed remote row")
		return
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.byID[row.ID]; ok {
		return
	}
	m := row.clone()
	if local, ok := r.pending[m.Nonce]; ok && m.Nonce != "" {
		delete(r.pending, m.Nonce)
		delete(r.byID, local.ID)
		r.remove(local.ID)
		r.insertOrdered(m)
		r.byID[m.ID] = m
		return
	}
	r.insertOrdered(m)
	r.byID[m.ID] = m
}

// Messages returns a snapshot of the timeline in created_at order.
func (r *Reconciler) Messages() []*Message {
	r.lock.Lock()
	defer r.lock.Unlock()
	out := make([]*Message, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.clone()
	}
	return out
}

func (r *Reconciler) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.messages)
}

func (r *Reconciler) insertOrdered(m *Message) {
	i := sort.Search(len(r.messages), func(i int) bool {
		return r.messages[i].CreatedAt > m.CreatedAt
	})
	r.messages = append(r.messages, nil)
	copy(r.messages[i+1:], r.messages[i:])
	r.messages[i] = m
}

func (r *Reconciler) remove(id string) {
	for i, m := range r.messages {
		if m.ID == id {
			r.messages = append(r.messages[:i], r.messages[i+1:]...)
			return
		}
	}
}
