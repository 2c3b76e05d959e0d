// This package defines the id types used throughout hearsay. Server-assigned row
// ids and nonces are UUID strings; optimistic rows get a reserved "local-" prefix
// so they can never collide with a server id.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

const localPrefix = "local-"

// NewID makes a random id suitable for a server-assigned row.
func NewID() string {
	return uuid.NewString()
}

// NewNonce makes a random nonce, unique per send.
func NewNonce() string {
	return uuid.NewString()
}

// NewLocalID makes a temporary id for an optimistic row.
func NewLocalID() string {
	return localPrefix + uuid.NewString()
}

// IsLocal reports whether id was produced by NewLocalID.
func IsLocal(id string) bool {
	return strings.HasPrefix(id, localPrefix)
}
