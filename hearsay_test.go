package hearsay

import (
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/hearsay-im/go-hearsay/clock"
	"github.com/hearsay-im/go-hearsay/config"
	"github.com/hearsay-im/go-hearsay/crypto"
	"github.com/hearsay-im/go-hearsay/envelope"
	"github.com/hearsay-im/go-hearsay/ids"
	db "github.com/hearsay-im/go-hearsay/internal/db"
	"github.com/hearsay-im/go-hearsay/internal/test"
	"github.com/hearsay-im/go-hearsay/realtime/localhub"
	"github.com/hearsay-im/go-hearsay/store/sqlstore"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	os.Exit(test.DBCleanup(m.Run))
}

func newTestMessenger(t *testing.T) (*Messenger, *localhub.Hub) {
	c := config.NewConfig(
		config.WithRootDir(fmt.Sprintf("test-%s", uuid.NewString())),
		config.WithLoggingPrefix("hearsay-test"),
	)
	var hub *localhub.Hub
	m, err := NewMessenger(c, func(d *db.Database, cl clock.Clock) (Backend, error) {
		s, err := sqlstore.NewStore(c, d, cl)
		if err != nil {
			return nil, err
		}
		hub = localhub.NewHub(c)
		return localhub.NewBackend(s, hub), nil
	})
	require.Nil(t, err)
	require.True(t, m.New())

	key, err := m.NewKey("test-password")
	require.Nil(t, err)
	require.Nil(t, m.Initialize(key))
	require.Nil(t, m.Open(key))
	require.True(t, m.Running())
	return m, hub
}

func TestSendEchoYieldsSingleEntry(t *testing.T) {
	m, _ := newTestMessenger(t)
	defer func() {
		require.Nil(t, m.Close())
	}()

	chat, err := m.OpenChat("chat-1")
	require.Nil(t, err)

	stored, err := chat.Send(envelope.Payload{Text: "hi"})
	require.Nil(t, err)
	require.False(t, ids.IsLocal(stored.ID))

	// the echo arrived through the hub and replaced the optimistic entry
	msgs := chat.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, stored.ID, msgs[0].ID)
	require.Equal(t, "hi", envelope.Decode(msgs[0].Ciphertext).Text)
}

func TestOpenChatLoadsHistory(t *testing.T) {
	m, _ := newTestMessenger(t)
	defer func() {
		require.Nil(t, m.Close())
	}()

	chat, err := m.OpenChat("chat-1")
	require.Nil(t, err)
	_, err = chat.Send(envelope.Payload{Text: "one"})
	require.Nil(t, err)
	_, err = chat.Send(envelope.Payload{Text: "two"})
	require.Nil(t, err)
	require.Nil(t, m.CloseChat("chat-1"))

	chat, err = m.OpenChat("chat-1")
	require.Nil(t, err)
	msgs := chat.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "one", envelope.Decode(msgs[0].Ciphertext).Text)
	require.Equal(t, "two", envelope.Decode(msgs[1].Ciphertext).Text)
}

func TestSafetyNumberStableAcrossCalls(t *testing.T) {
	m, _ := newTestMessenger(t)
	defer func() {
		require.Nil(t, m.Close())
	}()

	fp1, err := m.SafetyNumber()
	require.Nil(t, err)
	fp2, err := m.SafetyNumber()
	require.Nil(t, err)
	require.Equal(t, fp1, fp2)

	bundle, err := m.Identity().LoadBundle()
	require.Nil(t, err)
	require.Equal(t, crypto.Fingerprint(bundle.IdentityKeyPublic), fp1)
}

func TestCloseChatIsIdempotent(t *testing.T) {
	m, _ := newTestMessenger(t)
	defer func() {
		require.Nil(t, m.Close())
	}()

	_, err := m.OpenChat("chat-1")
	require.Nil(t, err)
	require.Equal(t, []string{"chat-1"}, m.Chats())
	require.Nil(t, m.CloseChat("chat-1"))
	require.Nil(t, m.CloseChat("chat-1"))
	require.Empty(t, m.Chats())
}

func TestRegisterDeviceSetsSender(t *testing.T) {
	m, _ := newTestMessenger(t)
	defer func() {
		require.Nil(t, m.Close())
	}()

	require.Nil(t, m.RegisterDevice("device-abc"))
	chat, err := m.OpenChat("chat-1")
	require.Nil(t, err)
	stored, err := chat.Send(envelope.Payload{Text: "hi"})
	require.Nil(t, err)
	require.Equal(t, "device-abc", stored.SenderDeviceID)
}
