// Defines the SQLCipher-backed message store.
package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/hearsay-im/go-hearsay/clock"
	"github.com/hearsay-im/go-hearsay/config"
	"github.com/hearsay-im/go-hearsay/ids"
	db "github.com/hearsay-im/go-hearsay/internal/db"
	"github.com/hearsay-im/go-hearsay/migration"
	"github.com/hearsay-im/go-hearsay/timeline"
	"go.uber.org/zap"
)

type Store struct {
	config *config.Config
	db     *db.Database
	log    *zap.SugaredLogger
	clock  clock.Clock
}

func NewStore(c *config.Config, d *db.Database, cl clock.Clock) (*Store, error) {
	log := c.Logger("store/sqlstore")

	if err := d.MigrateNoLock("_messages", []*migration.Migration{
		{
			Name: "Create initial tables",
			Func: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
	CREATE TABLE messages (
		id STRING PRIMARY KEY,
		chat_id STRING NOT NULL,
		sender_device_id STRING NOT NULL,
		ciphertext STRING NOT NULL,
		nonce STRING NOT NULL,
		message_type STRING NOT NULL,
		created_at STRING NOT NULL
	);

	CREATE INDEX messages_chat_created on messages (chat_id, created_at);
	`)
				return err
			},
		},
	}); err != nil {
		return nil, err
	}

	return &Store{config: c, db: d, log: log, clock: cl}, nil
}

// Insert persists msg with a server-assigned id and timestamp. The caller's
// temporary id and client timestamp are not trusted.
func (s *Store) Insert(msg *timeline.Message) (*timeline.Message, error) {
	stored := *msg
	stored.ID = ids.NewID()
	stored.CreatedAt = clock.Timestamp(s.clock.Now())
	if err := s.db.Run("insert message", func() error {
		if _, err := s.db.Tx.NamedExec("INSERT INTO messages (id, chat_id, sender_device_id, ciphertext, nonce, message_type, created_at) VALUES (:id, :chat_id, :sender_device_id, :ciphertext, :nonce, :message_type, :created_at)", &stored); err != nil {
			return fmt.Errorf("sqlstore: error inserting message: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (s *Store) List(chatID string, limit int) ([]*timeline.Message, error) {
	var msgs []*timeline.Message
	if err := s.db.RunReadOnly("list messages", func() error {
		if err := s.db.Tx.Select(&msgs, "SELECT * FROM messages WHERE chat_id = $1 ORDER BY created_at ASC LIMIT $2", chatID, limit); err != nil {
			return fmt.Errorf("sqlstore: error listing messages: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *Store) LastMessage(chatID string) (*timeline.Message, error) {
	var msg timeline.Message
	found := true
	if err := s.db.RunReadOnly("last message", func() error {
		if err := s.db.Tx.Get(&msg, "SELECT * FROM messages WHERE chat_id = $1 ORDER BY created_at DESC LIMIT 1", chatID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				found = false
				return nil
			}
			return fmt.Errorf("sqlstore: error getting last message: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &msg, nil
}
