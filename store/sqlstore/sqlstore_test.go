package sqlstore

import (
	"os"
	"testing"
	"time"

	"github.com/hearsay-im/go-hearsay/config"
	"github.com/hearsay-im/go-hearsay/envelope"
	"github.com/hearsay-im/go-hearsay/ids"
	"github.com/hearsay-im/go-hearsay/internal/test"
	"github.com/hearsay-im/go-hearsay/timeline"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	os.Exit(test.DBCleanup(m.Run))
}

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

func (tc *testClock) advance(d time.Duration) {
	tc.now = tc.now.Add(d)
}

func newTestStore(t *testing.T) (*Store, *testClock, func()) {
	c := config.NewConfig(config.WithLoggingPrefix("sqlstore-test"))
	d := test.NewTestDatabase(c)
	tc := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, err := NewStore(c, d, tc)
	require.Nil(t, err)
	return s, tc, func() {
		require.Nil(t, d.Shutdown())
	}
}

func localMessage(chatID string) *timeline.Message {
	return &timeline.Message{
		ID:             ids.NewLocalID(),
		ChatID:         chatID,
		SenderDeviceID: "device-1",
		Ciphertext:     `{"v":1,"text":"hi"}`,
		Nonce:          ids.NewNonce(),
		MessageType:    envelope.TypeWhisper,
		CreatedAt:      "",
	}
}

func TestInsertAssignsServerID(t *testing.T) {
	s, _, cleanup := newTestStore(t)
	defer cleanup()

	local := localMessage("chat-1")
	stored, err := s.Insert(local)
	require.Nil(t, err)
	require.False(t, ids.IsLocal(stored.ID))
	require.NotEmpty(t, stored.CreatedAt)
	require.Equal(t, local.Nonce, stored.Nonce)
}

func TestListOrdering(t *testing.T) {
	s, tc, cleanup := newTestStore(t)
	defer cleanup()

	m1, err := s.Insert(localMessage("chat-1"))
	require.Nil(t, err)
	tc.advance(time.Second)
	m2, err := s.Insert(localMessage("chat-1"))
	require.Nil(t, err)
	tc.advance(time.Second)
	_, err = s.Insert(localMessage("chat-2"))
	require.Nil(t, err)

	msgs, err := s.List("chat-1", 200)
	require.Nil(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, m1.ID, msgs[0].ID)
	require.Equal(t, m2.ID, msgs[1].ID)
}

func TestLastMessage(t *testing.T) {
	s, tc, cleanup := newTestStore(t)
	defer cleanup()

	last, err := s.LastMessage("chat-1")
	require.Nil(t, err)
	require.Nil(t, last)

	_, err = s.Insert(localMessage("chat-1"))
	require.Nil(t, err)
	tc.advance(time.Second)
	m2, err := s.Insert(localMessage("chat-1"))
	require.Nil(t, err)

	last, err = s.LastMessage("chat-1")
	require.Nil(t, err)
	require.NotNil(t, last)
	require.Equal(t, m2.ID, last.ID)
}
