package identity

import (
	"testing"
	"time"

	"github.com/hearsay-im/go-hearsay/config"
	"github.com/hearsay-im/go-hearsay/kv"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func (tc *testClock) CurrentTimeMicro() uint64 {
	return uint64(tc.now.UnixMicro())
}

func (tc *testClock) CurrentTimeMs() uint64 {
	return tc.CurrentTimeMicro() / 1000
}

func (tc *testClock) Now() time.Time {
	return tc.now
}

func newTestManager() *Manager {
	c := config.NewConfig(config.WithLoggingPrefix("identity-test"))
	cl := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewManager(c, cl, kv.NewMemoryStore())
}

func TestGenerateBundleInvariants(t *testing.T) {
	m := newTestManager()
	b, err := m.GenerateBundle()
	require.Nil(t, err)
	require.Equal(t, uint32(1), b.PreKeyStartID)
	require.True(t, b.SignedPreKeyID > 0)
	require.True(t, b.RegistrationID > 0)
	require.True(t, b.RegistrationID <= 16380)
	require.NotEmpty(t, b.IdentityKeyPublic)
	require.NotEmpty(t, b.GeneratedAt)
}

func TestGenerateBundleDistinctKeys(t *testing.T) {
	m := newTestManager()
	b1, err := m.GenerateBundle()
	require.Nil(t, err)
	b2, err := m.GenerateBundle()
	require.Nil(t, err)
	require.NotEqual(t, b1.IdentityKeyPublic, b2.IdentityKeyPublic)
}

func TestBundleRoundTrip(t *testing.T) {
	m := newTestManager()
	generated, err := m.GenerateBundle()
	require.Nil(t, err)
	loaded, err := m.LoadBundle()
	require.Nil(t, err)
	require.Equal(t, generated, loaded)
}

func TestLoadBundleWithoutGenerate(t *testing.T) {
	m := newTestManager()
	_, err := m.LoadBundle()
	require.Equal(t, ErrNoBundle, err)
}

func TestEnsureBundleGeneratesOnce(t *testing.T) {
	m := newTestManager()
	b1, err := m.EnsureBundle()
	require.Nil(t, err)
	b2, err := m.EnsureBundle()
	require.Nil(t, err)
	require.Equal(t, b1, b2)
}

func TestPreKeyBatchRetained(t *testing.T) {
	m := newTestManager()
	_, err := m.GenerateBundle()
	require.Nil(t, err)

	published, err := m.PublishPreKeys()
	require.Nil(t, err)
	require.Len(t, published, 25)
	for i, pk := range published {
		require.Equal(t, uint32(i+1), pk.ID)
		require.Len(t, pk.PublicKey, 32)
		require.Empty(t, pk.PrivateKey)
	}
}

func TestConsumePreKeyOnlyOnce(t *testing.T) {
	m := newTestManager()
	_, err := m.GenerateBundle()
	require.Nil(t, err)

	pk, err := m.ConsumePreKey(3)
	require.Nil(t, err)
	require.Equal(t, uint32(3), pk.ID)
	require.Len(t, pk.PrivateKey, 32)

	_, err = m.ConsumePreKey(3)
	require.NotNil(t, err)

	published, err := m.PublishPreKeys()
	require.Nil(t, err)
	require.Len(t, published, 24)
}

func TestActiveDeviceID(t *testing.T) {
	m := newTestManager()
	id, err := m.ActiveDeviceID()
	require.Nil(t, err)
	require.Equal(t, "", id)

	require.Nil(t, m.SetActiveDeviceID("device-123"))
	id, err = m.ActiveDeviceID()
	require.Nil(t, err)
	require.Equal(t, "device-123", id)
}
