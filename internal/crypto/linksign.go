// Package crypto implements the signed-link tokens embedded in
// email-confirmation URLs.
package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// LinkSign returns the signature for a confirmation link carrying the given
// identity id. The signature is the hex SHA-256 digest of secret+id+secret.
// Verification is stateless: nothing about an issued link is stored
// server-side, so a link stays valid for as long as the secret does.
func LinkSign(secret, identityID string) string {
	sum := sha256.Sum256([]byte(secret + identityID + secret))
	return hex.EncodeToString(sum[:])
}

// LinkVerify reports whether sig is a valid signature for identityID.
// The comparison is case-insensitive and constant-time; callers must treat
// a failure as a generic 403 without further detail.
func LinkVerify(secret, identityID, sig string) bool {
	expected := strings.ToUpper(LinkSign(secret, identityID))
	got := strings.ToUpper(sig)
	if len(expected) != len(got) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
