package sqlkv

import (
	"os"
	"testing"

	"github.com/hearsay-im/go-hearsay/config"
	"github.com/hearsay-im/go-hearsay/internal/test"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	os.Exit(test.DBCleanup(m.Run))
}

func TestSetGetClear(t *testing.T) {
	c := config.NewConfig(config.WithLoggingPrefix("sqlkv-test"))
	d := test.NewTestDatabase(c)
	defer func() {
		require.Nil(t, d.Shutdown())
	}()

	s, err := NewStore(c, d, test.DBKey())
	require.Nil(t, err)

	_, ok, err := s.Get("device_bundle")
	require.Nil(t, err)
	require.False(t, ok)

	require.Nil(t, s.Set("device_bundle", []byte(`{"registrationId":1}`)))
	v, ok, err := s.Get("device_bundle")
	require.Nil(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`{"registrationId":1}`), v)

	require.Nil(t, s.Set("device_bundle", []byte(`{"registrationId":2}`)))
	v, ok, err = s.Get("device_bundle")
	require.Nil(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`{"registrationId":2}`), v)

	require.Nil(t, s.Clear("device_bundle"))
	_, ok, err = s.Get("device_bundle")
	require.Nil(t, err)
	require.False(t, ok)
}
