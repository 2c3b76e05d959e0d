package envelope

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripText(t *testing.T) {
	enc := Encode(Payload{Text: "hi"})
	p := Decode(enc)
	require.Equal(t, "hi", p.Text)
	require.Equal(t, "", p.ImagePath)
}

func TestEncodeOmitsAbsentFields(t *testing.T) {
	enc := Encode(Payload{Text: "hi"})
	require.False(t, strings.Contains(enc, "imagePath"))
	require.True(t, strings.Contains(enc, `"v":1`))
}

func TestDecodeFailSoft(t *testing.T) {
	for _, raw := range []string{"not json", "", "42", "null", `["a"]`, `"str"`} {
		p := Decode(raw)
		require.Equal(t, Payload{}, p, "input %q", raw)
	}
}

func TestUnknownFieldsSurviveRoundTrip(t *testing.T) {
	p := Decode(`{"v":1,"text":"hi","reaction":"👍"}`)
	require.Equal(t, "hi", p.Text)
	enc := Encode(p)
	var obj map[string]json.RawMessage
	require.Nil(t, json.Unmarshal([]byte(enc), &obj))
	require.Equal(t, json.RawMessage(`"👍"`), obj["reaction"])
}

func TestClassify(t *testing.T) {
	require.Equal(t, TypePrekey, Classify(3))
	require.Equal(t, TypeWhisper, Classify(1))
	require.Equal(t, TypeWhisper, Classify(0))
	require.Equal(t, TypeWhisper, Classify(-3))
}

func TestSealText(t *testing.T) {
	env := SealText(Payload{Text: "hi"})
	require.Equal(t, TypeWhisper, env.Type)
	require.Equal(t, "hi", Decode(env.Ciphertext).Text)
}

func TestSendReceiveSymmetry(t *testing.T) {
	// client A encodes, client B decodes the stored ciphertext
	stored := Encode(Payload{Text: "hi"})
	require.Equal(t, "hi", Decode(stored).Text)
}
