package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	fingerprintHexLen   = 60
	fingerprintGroupLen = 5
)

// Fingerprint derives a human-comparable safety number from identity material.
// It hashes the UTF-8 bytes with SHA-256, keeps the first 60 hex characters and
// regroups them into space-separated chunks of 5. The output is stable across
// runs and platforms for identical input.
func Fingerprint(identityMaterial string) string {
	sum := sha256.Sum256([]byte(identityMaterial))
	h := hex.EncodeToString(sum[:])[:fingerprintHexLen]
	groups := make([]string, 0, fingerprintHexLen/fingerprintGroupLen)
	for i := 0; i < len(h); i += fingerprintGroupLen {
		groups = append(groups, h[i:i+fingerprintGroupLen])
	}
	return strings.Join(groups, " ")
}
