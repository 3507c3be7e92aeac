package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkSignDeterministic(t *testing.T) {
	a := LinkSign("secret", "3f1c2a44-0000-0000-0000-000000000001")
	b := LinkSign("secret", "3f1c2a44-0000-0000-0000-000000000001")
	assert.Equal(t, a, b)
	assert.Len(t, a, hex.EncodedLen(sha256.Size))
}

func TestLinkSignSecretSandwich(t *testing.T) {
	sum := sha256.Sum256([]byte("s" + "id-1" + "s"))
	want := hex.EncodeToString(sum[:])
	assert.Equal(t, want, LinkSign("s", "id-1"))
}

func TestLinkVerify(t *testing.T) {
	sig := LinkSign("secret", "id-1")

	assert.True(t, LinkVerify("secret", "id-1", sig))
	assert.True(t, LinkVerify("secret", "id-1", strings.ToUpper(sig)), "compare is case-insensitive")

	assert.False(t, LinkVerify("secret", "id-2", sig), "different id")
	assert.False(t, LinkVerify("other", "id-1", sig), "different secret")
	assert.False(t, LinkVerify("secret", "id-1", sig[:len(sig)-1]), "truncated")
	assert.False(t, LinkVerify("secret", "id-1", ""))
}

func TestLinkVerifyTamperedHexDigit(t *testing.T) {
	sig := LinkSign("secret", "id-1")
	require.NotEmpty(t, sig)

	flip := byte('0')
	if sig[0] == '0' {
		flip = '1'
	}
	tampered := string(flip) + sig[1:]
	assert.False(t, LinkVerify("secret", "id-1", tampered))
}
