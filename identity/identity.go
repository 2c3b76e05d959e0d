// This package manages the device's cryptographic identity: it generates the
// device key bundle and persists it, along with the full one-time prekey batch,
// in the client-local key-value store.
package identity

import (
	"crypto/ed25519"
	crypto_rand "crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/hearsay-im/go-hearsay/clock"
	"github.com/hearsay-im/go-hearsay/config"
	"github.com/hearsay-im/go-hearsay/kv"
	"github.com/kevinburke/nacl/box"
	"go.uber.org/zap"
)

const (
	bundleKey   = "device_bundle"
	secretKey   = "device_secret"
	deviceIDKey = "active_device_id"

	// registration ids fit the range used by the Signal protocol
	maxRegistrationID = 16380
)

// KeyGenerationError indicates the underlying key-generation primitive was
// unavailable or returned malformed output. Fatal to onboarding, never retried
// automatically.
type KeyGenerationError struct {
	Cause error
}

func (e *KeyGenerationError) Error() string {
	return fmt.Sprintf("identity: key generation failed: %v", e.Cause)
}

func (e *KeyGenerationError) Unwrap() error {
	return e.Cause
}

// ErrNoBundle is returned when no bundle has been generated yet.
var ErrNoBundle = fmt.Errorf("identity: no device bundle")

// Bundle is the public half of a device's key material. Exactly one bundle is
// active per device; regeneration replaces it wholesale.
type Bundle struct {
	RegistrationID    uint32 `json:"registrationId"`
	IdentityKeyPublic string `json:"identityKeyPublic"`
	SignedPreKeyID    uint32 `json:"signedPreKeyId"`
	PreKeyStartID     uint32 `json:"preKeyStartId"`
	GeneratedAt       string `json:"generatedAt"`
}

// PreKey is one retained one-time prekey.
type PreKey struct {
	ID         uint32 `json:"id"`
	PublicKey  []byte `json:"publicKey"`
	PrivateKey []byte `json:"privateKey,omitempty"`
}

type secretRecord struct {
	IdentityKeyPrivate    []byte `json:"identityKeyPrivate"`
	SigningKeyPrivate     []byte `json:"signingKeyPrivate"`
	SignedPreKeyPublic    []byte `json:"signedPreKeyPublic"`
	SignedPreKeyPrivate   []byte `json:"signedPreKeyPrivate"`
	SignedPreKeySignature []byte `json:"signedPreKeySignature"`
}

type Manager struct {
	config *config.Config
	log    *zap.SugaredLogger
	clock  clock.Clock
	store  kv.Store
}

func NewManager(c *config.Config, cl clock.Clock, store kv.Store) *Manager {
	return &Manager{
		config: c,
		log:    c.Logger("identity"),
		clock:  cl,
		store:  store,
	}
}

// GenerateBundle makes a fresh device bundle and persists it, replacing any
// previous one. The one-time prekey batch is retained in full, keyed by id,
// since discarding it would make later session bootstrap impossible.
func (m *Manager) GenerateBundle() (*Bundle, error) {
	identityPub, identityPriv, err := box.GenerateKey(crypto_rand.Reader)
	if err != nil {
		return nil, &KeyGenerationError{err}
	}
	_, signPriv, err := ed25519.GenerateKey(crypto_rand.Reader)
	if err != nil {
		return nil, &KeyGenerationError{err}
	}
	regID, err := newRegistrationID()
	if err != nil {
		return nil, &KeyGenerationError{err}
	}

	spkPub, spkPriv, err := box.GenerateKey(crypto_rand.Reader)
	if err != nil {
		return nil, &KeyGenerationError{err}
	}
	spkSig := ed25519.Sign(signPriv, spkPub[:])

	batch := m.config.PrekeyBatchSize
	for i := 1; i <= batch; i++ {
		pub, priv, err := box.GenerateKey(crypto_rand.Reader)
		if err != nil {
			return nil, &KeyGenerationError{err}
		}
		pk := &PreKey{ID: uint32(i), PublicKey: pub[:], PrivateKey: priv[:]}
		b, err := json.Marshal(pk)
		if err != nil {
			return nil, err
		}
		if err := m.store.Set(prekeyStoreKey(uint32(i)), b); err != nil {
			return nil, fmt.Errorf("identity: error storing prekey %d: %w", i, err)
		}
	}

	bundle := &Bundle{
		RegistrationID:    regID,
		IdentityKeyPublic: base64.StdEncoding.EncodeToString(identityPub[:]),
		SignedPreKeyID:    1,
		PreKeyStartID:     1,
		GeneratedAt:       clock.Timestamp(m.clock.Now()),
	}
	bundleBytes, err := json.Marshal(bundle)
	if err != nil {
		return nil, err
	}
	secret := &secretRecord{
		IdentityKeyPrivate:    identityPriv[:],
		SigningKeyPrivate:     signPriv,
		SignedPreKeyPublic:    spkPub[:],
		SignedPreKeyPrivate:   spkPriv[:],
		SignedPreKeySignature: spkSig,
	}
	secretBytes, err := json.Marshal(secret)
	if err != nil {
		return nil, err
	}
	if err := m.store.Set(secretKey, secretBytes); err != nil {
		return nil, fmt.Errorf("identity: error storing device secret: %w", err)
	}
	if err := m.store.Set(bundleKey, bundleBytes); err != nil {
		return nil, fmt.Errorf("identity: error storing device bundle: %w", err)
	}
	m.log.Debugf("generated device bundle with registration id %d", regID)
	return bundle, nil
}

// LoadBundle retrieves the persisted bundle. GenerateBundle followed by
// LoadBundle round-trips byte-for-byte.
func (m *Manager) LoadBundle() (*Bundle, error) {
	b, ok, err := m.store.Get(bundleKey)
	if err != nil {
		return nil, fmt.Errorf("identity: error loading device bundle: %w", err)
	}
	if !ok {
		return nil, ErrNoBundle
	}
	var bundle Bundle
	if err := json.Unmarshal(b, &bundle); err != nil {
		return nil, fmt.Errorf("identity: error decoding device bundle: %w", err)
	}
	return &bundle, nil
}

// EnsureBundle loads the active bundle, generating one on first use.
func (m *Manager) EnsureBundle() (*Bundle, error) {
	bundle, err := m.LoadBundle()
	if err == nil {
		return bundle, nil
	}
	if err != ErrNoBundle {
		return nil, err
	}
	return m.GenerateBundle()
}

// PublishPreKeys returns the public halves of all retained one-time prekeys, for
// upload to a server.
func (m *Manager) PublishPreKeys() ([]*PreKey, error) {
	bundle, err := m.LoadBundle()
	if err != nil {
		return nil, err
	}
	out := make([]*PreKey, 0, m.config.PrekeyBatchSize)
	for i := 0; i < m.config.PrekeyBatchSize; i++ {
		id := bundle.PreKeyStartID + uint32(i)
		pk, ok, err := m.prekey(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, &PreKey{ID: pk.ID, PublicKey: pk.PublicKey})
	}
	return out, nil
}

// ConsumePreKey removes and returns one one-time prekey. A prekey can only be
// consumed once.
func (m *Manager) ConsumePreKey(id uint32) (*PreKey, error) {
	pk, ok, err := m.prekey(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("identity: no prekey with id %d", id)
	}
	if err := m.store.Clear(prekeyStoreKey(id)); err != nil {
		return nil, fmt.Errorf("identity: error clearing prekey %d: %w", id, err)
	}
	return pk, nil
}

// SetActiveDeviceID records the server-assigned device id.
func (m *Manager) SetActiveDeviceID(id string) error {
	if err := m.store.Set(deviceIDKey, []byte(id)); err != nil {
		return fmt.Errorf("identity: error storing device id: %w", err)
	}
	return nil
}

// ActiveDeviceID returns the server-assigned device id, or "" if the device has
// not been registered yet.
func (m *Manager) ActiveDeviceID() (string, error) {
	b, ok, err := m.store.Get(deviceIDKey)
	if err != nil {
		return "", fmt.Errorf("identity: error loading device id: %w", err)
	}
	if !ok {
		return "", nil
	}
	return string(b), nil
}

func (m *Manager) prekey(id uint32) (*PreKey, bool, error) {
	b, ok, err := m.store.Get(prekeyStoreKey(id))
	if err != nil {
		return nil, false, fmt.Errorf("identity: error loading prekey %d: %w", id, err)
	}
	if !ok {
		return nil, false, nil
	}
	var pk PreKey
	if err := json.Unmarshal(b, &pk); err != nil {
		return nil, false, fmt.Errorf("identity: error decoding prekey %d: %w", id, err)
	}
	return &pk, true, nil
}

func prekeyStoreKey(id uint32) string {
	return fmt.Sprintf("prekey/%d", id)
}

func newRegistrationID() (uint32, error) {
	var b [4]byte
	if _, err := crypto_rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:])%maxRegistrationID + 1, nil
}
