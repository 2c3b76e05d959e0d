// This package provides a high-level interface to the hearsay client core. It
// owns the device identity, the encrypted local database and one reconciled
// timeline per open conversation, and exposes sending and update streaming.
package hearsay

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hearsay-im/go-hearsay/clock"
	"github.com/hearsay-im/go-hearsay/config"
	"github.com/hearsay-im/go-hearsay/crypto"
	"github.com/hearsay-im/go-hearsay/envelope"
	"github.com/hearsay-im/go-hearsay/identity"
	"github.com/hearsay-im/go-hearsay/internal/db"
	"github.com/hearsay-im/go-hearsay/kv/sqlkv"
	"github.com/hearsay-im/go-hearsay/realtime"
	"github.com/hearsay-im/go-hearsay/store"
	"github.com/hearsay-im/go-hearsay/timeline"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
)

const (
	// Constants for application state.
	StateNew = iota
	StateInitialized
	StateRunning
	StateClosed
)

// An event indicating a change in the state of the messenger.
type AppState struct {
	State int
}

// Backend bundles the two server-side capabilities the core consumes: the
// row-oriented message store and the push subscription primitive.
type Backend interface {
	store.MessageStore
	realtime.Subscriber
}

// BackendFactory makes a backend once the local database is open. Local
// deployments build one over the database itself, remote ones ignore it.
type BackendFactory func(d *db.Database, cl clock.Clock) (Backend, error)

type Messenger struct {
	DB *db.Database

	config     *config.Config
	log        *zap.SugaredLogger
	clock      clock.Clock
	state      int
	newBackend BackendFactory
	backend    Backend
	identity   *identity.Manager
	deviceID   string
	updates    chan interface{}
	chats      map[string]*Chat
	chatLock   sync.Mutex
}

// Create a messenger instance.
func NewMessenger(c *config.Config, newBackend BackendFactory) (*Messenger, error) {
	log := c.Logger("")
	absRootPath, err := filepath.Abs(c.RootDir)
	if err != nil {
		return nil, err
	}
	c.RootDir = absRootPath
	log.Debugf("making messenger, using root path of %s", c.RootDir)

	if err := os.MkdirAll(c.RootDir, 0o700); err != nil {
		return nil, err
	}
	database, err := db.NewDatabase(c, path.Join(c.RootDir, "data"))
	if err != nil {
		return nil, err
	}

	state := StateNew
	if database.Initialized() {
		state = StateInitialized
	}

	return &Messenger{
		DB:         database,
		config:     c,
		log:        log,
		clock:      clock.NewSystemClock(),
		state:      state,
		newBackend: newBackend,
		updates:    make(chan interface{}, 100),
		chats:      make(map[string]*Chat),
	}, nil
}

// Makes a key from a password.
func (m *Messenger) NewKey(password string) ([]byte, error) {
	return crypto.DeriveKey(password, m.config.RootDir, "salt")
}

// Gets various updates which must be dealt with. This will produce *AppState,
// *timeline.Update or *realtime.StateUpdate.
func (m *Messenger) Updates() chan interface{} {
	return m.updates
}

// Returns true if the messenger is in NEW state.
func (m *Messenger) New() bool {
	return m.state == StateNew
}

// Returns true if the messenger is in INITIALIZED state.
func (m *Messenger) Initialized() bool {
	return m.state == StateInitialized
}

// Returns true if the messenger is in RUNNING state.
func (m *Messenger) Running() bool {
	return m.state == StateRunning
}

// Initialize the local database with the given key.
func (m *Messenger) Initialize(key []byte) error {
	if err := m.DB.Initialize(key); err != nil {
		return err
	}
	m.state = StateInitialized
	m.emit(&AppState{m.state})
	return nil
}

// Open the local database and bring up the identity manager and backend.
func (m *Messenger) Open(key []byte) error {
	if m.state != StateInitialized {
		return fmt.Errorf("hearsay: wrong state, expected %d got %d", StateInitialized, m.state)
	}
	if err := m.DB.Open(key); err != nil {
		return err
	}
	secrets, err := sqlkv.NewStore(m.config, m.DB, key)
	if err != nil {
		return err
	}
	m.identity = identity.NewManager(m.config, m.clock, secrets)
	backend, err := m.newBackend(m.DB, m.clock)
	if err != nil {
		return err
	}
	m.backend = backend
	deviceID, err := m.identity.ActiveDeviceID()
	if err != nil {
		return err
	}
	if deviceID == "" {
		deviceID = "local"
	}
	m.deviceID = deviceID
	m.state = StateRunning
	m.emit(&AppState{m.state})
	return nil
}

// Identity returns the device identity manager.
func (m *Messenger) Identity() *identity.Manager {
	return m.identity
}

// RegisterDevice records the server-assigned device id used as the sender id on
// outgoing rows.
func (m *Messenger) RegisterDevice(deviceID string) error {
	if err := m.identity.SetActiveDeviceID(deviceID); err != nil {
		return err
	}
	m.deviceID = deviceID
	return nil
}

// SafetyNumber derives the human-comparable safety number for this device's
// identity key, generating a bundle on first use.
func (m *Messenger) SafetyNumber() (string, error) {
	bundle, err := m.identity.EnsureBundle()
	if err != nil {
		return "", err
	}
	return crypto.Fingerprint(bundle.IdentityKeyPublic), nil
}

// OpenChat bulk-fetches the conversation history and starts the push
// subscription for it. Fetch errors are surfaced and leave no chat state
// behind.
func (m *Messenger) OpenChat(chatID string) (*Chat, error) {
	if m.state != StateRunning {
		return nil, fmt.Errorf("hearsay: wrong state, expected %d got %d", StateRunning, m.state)
	}
	m.chatLock.Lock()
	defer m.chatLock.Unlock()
	if chat, ok := m.chats[chatID]; ok {
		return chat, nil
	}
	rows, err := m.backend.List(chatID, m.config.FetchLimit)
	if err != nil {
		return nil, fmt.Errorf("hearsay: error fetching messages for %s: %w", chatID, err)
	}
	reconciler := timeline.NewReconciler(m.config, m.clock)
	reconciler.LoadInitial(rows)
	controller := realtime.NewController(m.config, m.backend, reconciler, m.updates)
	if err := controller.Open(chatID); err != nil {
		return nil, err
	}
	chat := &Chat{
		ID:         chatID,
		messenger:  m,
		reconciler: reconciler,
		controller: controller,
	}
	m.chats[chatID] = chat
	return chat, nil
}

// CloseChat tears down the conversation view, evicting its timeline from
// memory. Safe to call for a chat which is not open.
func (m *Messenger) CloseChat(chatID string) error {
	m.chatLock.Lock()
	chat, ok := m.chats[chatID]
	delete(m.chats, chatID)
	m.chatLock.Unlock()
	if !ok {
		return nil
	}
	return chat.controller.Close()
}

// Chats returns the ids of the open conversations.
func (m *Messenger) Chats() []string {
	m.chatLock.Lock()
	defer m.chatLock.Unlock()
	ids := maps.Keys(m.chats)
	sort.Strings(ids)
	return ids
}

// Close tears down all conversation views and shuts the database down.
func (m *Messenger) Close() error {
	m.chatLock.Lock()
	chats := maps.Values(m.chats)
	m.chats = make(map[string]*Chat)
	m.chatLock.Unlock()
	for _, chat := range chats {
		if err := chat.controller.Close(); err != nil {
			m.log.Warnf("error while closing chat %s: %#v", chat.ID, err)
		}
	}
	if m.state == StateRunning {
		if err := m.DB.Shutdown(); err != nil {
			return err
		}
	}
	m.state = StateClosed
	m.emit(&AppState{m.state})
	return nil
}

func (m *Messenger) emit(e interface{}) {
	select {
	case m.updates <- e:
	default:
		m.log.Warnf("dropping update %#v", e)
	}
}

// A single open conversation view.
type Chat struct {
	ID string

	messenger  *Messenger
	reconciler *timeline.Reconciler
	controller *realtime.Controller
}

// Messages returns a snapshot of the reconciled timeline.
func (c *Chat) Messages() []*timeline.Message {
	return c.reconciler.Messages()
}

// Send wraps the payload in an envelope, appends an optimistic entry so the
// send is visible immediately, then inserts the authoritative row. On insert
// failure the optimistic entry stays visible and the error is surfaced so the
// caller can retry.
func (c *Chat) Send(p envelope.Payload) (*timeline.Message, error) {
	env := envelope.SealText(p)
	m := c.messenger
	local := c.reconciler.NewLocalMessage(c.ID, m.deviceID, env.Ciphertext, env.Type)
	c.reconciler.AppendLocalOptimistic(local)
	m.emit(&timeline.Update{ChatID: c.ID})

	stored, err := m.backend.Insert(&timeline.Message{
		ChatID:         c.ID,
		SenderDeviceID: m.deviceID,
		Ciphertext:     env.Ciphertext,
		Nonce:          local.Nonce,
		MessageType:    env.Type,
	})
	if err != nil {
		return local, fmt.Errorf("hearsay: error sending message: %w", err)
	}
	return stored, nil
}
