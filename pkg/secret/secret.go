// Package secret generates the per-document OTP that backs a
// connection's "authorized" flag: the transport layer checks it and
// marks a connection authorized before any of its requests reach a
// session, without the core engine knowing anything about document ACLs.
package secret

import (
	"crypto/rand"
	"encoding/base64"
)

// Generate returns a cryptographically secure random 12-character OTP.
func Generate() string {
	// 9 random bytes -> 12 base64 characters, no padding.
	b := make([]byte, 9)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand practically never fails
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
