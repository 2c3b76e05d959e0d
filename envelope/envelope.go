// This package defines the versioned wire format wrapped around message payloads.
// Encoding is canonical JSON with absent fields omitted; decoding never fails,
// corrupted or foreign ciphertext collapses to an empty payload.
package envelope

import "encoding/json"

const (
	// Version is the fixed envelope wire version.
	Version = 1

	// Numeric type tag produced by a session cipher for a session-bootstrap
	// message.
	prekeyTypeTag = 3
)

type MessageType string

const (
	TypePrekey  MessageType = "prekey"
	TypeWhisper MessageType = "whisper"
)

// Payload is the logical message content before envelope wrapping. Unknown
// fields seen during decode are carried in Extra so they survive a re-encode.
type Payload struct {
	Text      string
	ImagePath string
	Extra     map[string]json.RawMessage
}

// Envelope wraps a cipher result, tagged with the message type derived from the
// cipher's numeric type tag.
type Envelope struct {
	Type       MessageType
	Ciphertext string
}

// CipherResult is the output of a per-message session cipher.
type CipherResult struct {
	Type int
	Body string
}

// Encode produces the wire string for p. Fields without a value are omitted, not
// emitted as null.
func Encode(p Payload) string {
	obj := make(map[string]json.RawMessage, 3+len(p.Extra))
	for k, v := range p.Extra {
		obj[k] = v
	}
	obj["v"], _ = json.Marshal(Version)
	if p.Text != "" {
		obj["text"], _ = json.Marshal(p.Text)
	}
	if p.ImagePath != "" {
		obj["imagePath"], _ = json.Marshal(p.ImagePath)
	}
	b, err := json.Marshal(obj)
	if err != nil {
		// only reachable with a payload that cannot be marshalled, which the
		// field types above rule out
		return "{}"
	}
	return string(b)
}

// Decode parses raw into a payload. It never fails: on any parse error, or when
// the parsed value is not an object, it returns an empty payload.
func Decode(raw string) Payload {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return Payload{}
	}
	p := Payload{}
	for k, v := range obj {
		switch k {
		case "v":
			// version tag, implied by the struct
		case "text":
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				p.Text = s
			}
		case "imagePath":
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				p.ImagePath = s
			}
		default:
			if p.Extra == nil {
				p.Extra = make(map[string]json.RawMessage)
			}
			p.Extra[k] = v
		}
	}
	return p
}

// Classify maps a session cipher's numeric type tag to a message type. Tag 3
// denotes a session-bootstrap message, everything else a continuing-session
// message.
func Classify(cipherResultTypeTag int) MessageType {
	if cipherResultTypeTag == prekeyTypeTag {
		return TypePrekey
	}
	return TypeWhisper
}

// Seal wraps a cipher result into an envelope.
func Seal(res CipherResult) Envelope {
	return Envelope{Type: Classify(res.Type), Ciphertext: res.Body}
}

// SealText wraps a payload using the stub session cipher, which returns the
// encoded payload unencrypted with a continuing-session type tag.
func SealText(p Payload) Envelope {
	return Seal(CipherResult{Type: 1, Body: Encode(p)})
}
