package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Beacon tokens are what game servers present to prove their identity on the
// log ingress socket. The daemon stores only the SHA-256 of the full token;
// the first TokenPrefixLen characters are kept in cleartext for listings.
const (
	TokenPrefix    = "hlxn_"
	TokenLen       = 48 // len(TokenPrefix) + 43 base64url chars of 32 random bytes
	TokenPrefixLen = 13
)

// NewBeaconToken generates a token, its storage hash and its display prefix.
// The full token is shown to the operator exactly once.
func NewBeaconToken() (token, hash, prefix string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("generating token: %w", err)
	}
	token = TokenPrefix + base64.RawURLEncoding.EncodeToString(raw)
	return token, HashBeaconToken(token), token[:TokenPrefixLen], nil
}

// HashBeaconToken returns the hex SHA-256 stored and compared on ingress.
func HashBeaconToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ValidBeaconToken checks the shape without touching storage, so malformed
// tokens are rejected before a database round-trip.
func ValidBeaconToken(token string) bool {
	return len(token) == TokenLen && strings.HasPrefix(token, TokenPrefix)
}
