// Package token issues the opaque public access tokens handed to end
// customers. Only the SHA-256 digest is persisted.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

const rawBytes = 32

// Generate returns a fresh raw token and its digest.
func Generate() (raw string, hash string, err error) {
	buf := make([]byte, rawBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, Hash(raw), nil
}

func Hash(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

// WellFormed rejects values that could never have been issued so they
// fail without a lookup.
func WellFormed(raw string) bool {
	raw = strings.TrimSpace(raw)
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	return err == nil && len(decoded) == rawBytes
}
