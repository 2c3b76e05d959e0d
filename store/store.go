// This package defines the row-oriented message store capability: insert, query
// ordered by created_at, and a latest-row lookup for chat summaries.
package store

import "github.com/hearsay-im/go-hearsay/timeline"

type MessageStore interface {
	// Insert persists the row, assigning a server id and timestamp, and returns
	// the stored row.
	Insert(msg *timeline.Message) (*timeline.Message, error)
	// List returns up to limit rows for a conversation in created_at order.
	List(chatID string, limit int) ([]*timeline.Message, error)
	// LastMessage returns the most recent row for a conversation, or nil if the
	// conversation is empty.
	LastMessage(chatID string) (*timeline.Message, error)
}
