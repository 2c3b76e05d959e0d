// Defines the SQLCipher-backed implementation of the key-value store. Values are
// additionally sealed with the storage key before being written.
package sqlkv

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/hearsay-im/go-hearsay/config"
	"github.com/hearsay-im/go-hearsay/crypto"
	db "github.com/hearsay-im/go-hearsay/internal/db"
	"github.com/hearsay-im/go-hearsay/migration"
	"go.uber.org/zap"
)

type row struct {
	Key   string `db:"k"`
	Value []byte `db:"v"`
}

type Store struct {
	config *config.Config
	db     *db.Database
	log    *zap.SugaredLogger
	key    []byte
}

func NewStore(c *config.Config, d *db.Database, key []byte) (*Store, error) {
	log := c.Logger("kv/sqlkv")

	if len(key) != 32 {
		return nil, fmt.Errorf("sqlkv: expected key of length 32, got %d", len(key))
	}

	if err := d.MigrateNoLock("_kv", []*migration.Migration{
		{
			Name: "Create initial tables",
			Func: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
	CREATE TABLE _kv (
		k STRING PRIMARY KEY,
		v BLOB NOT NULL
	);
	`)
				return err
			},
		},
	}); err != nil {
		return nil, err
	}

	return &Store{config: c, db: d, log: log, key: key}, nil
}

func (s *Store) Get(key string) ([]byte, bool, error) {
	var r row
	found := true
	if err := s.db.RunReadOnly("kv get", func() error {
		if err := s.db.Tx.Get(&r, "SELECT * FROM _kv WHERE k = $1", key); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				found = false
				return nil
			}
			return fmt.Errorf("sqlkv: error getting %s: %w", key, err)
		}
		return nil
	}); err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	value, err := crypto.OpenWithKey(s.key, r.Value)
	if err != nil {
		return nil, false, fmt.Errorf("sqlkv: error unsealing %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) Set(key string, value []byte) error {
	sealed, err := crypto.SealWithKey(s.key, value)
	if err != nil {
		return fmt.Errorf("sqlkv: error sealing %s: %w", key, err)
	}
	return s.db.Run("kv set", func() error {
		if _, err := s.db.Tx.NamedExec("INSERT INTO _kv (k, v) VALUES (:k, :v) ON CONFLICT(k) DO UPDATE SET v = :v", &row{key, sealed}); err != nil {
			return fmt.Errorf("sqlkv: error upserting %s: %w", key, err)
		}
		return nil
	})
}

func (s *Store) Clear(key string) error {
	return s.db.Run("kv clear", func() error {
		if _, err := s.db.Tx.Exec("DELETE FROM _kv WHERE k = $1", key); err != nil {
			return fmt.Errorf("sqlkv: error deleting %s: %w", key, err)
		}
		return nil
	})
}
