package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// OpaqueTokenBytes is the entropy of every issued access and refresh token.
const OpaqueTokenBytes = 32

// MaxTokenLength bounds presented tokens before they reach the store.
const MaxTokenLength = 4096

// NewOpaqueToken returns a URL-safe random string carrying OpaqueTokenBytes of entropy.
func NewOpaqueToken() (string, error) {
	b := make([]byte, OpaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
