package crypto

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFingerprintDeterminism(t *testing.T) {
	a := Fingerprint("identity-key")
	b := Fingerprint("identity-key")
	require.Equal(t, a, b)
}

func TestFingerprintFormat(t *testing.T) {
	fp := Fingerprint("identity-key")
	require.Regexp(t, regexp.MustCompile(`^[0-9a-f ]+$`), fp)
	groups := strings.Split(fp, " ")
	require.Len(t, groups, 12)
	for _, g := range groups {
		require.Len(t, g, 5)
	}
	require.Len(t, fp, 71)
}

func TestFingerprintDistinctInputs(t *testing.T) {
	require.NotEqual(t, Fingerprint("alice"), Fingerprint("bob"))
}
