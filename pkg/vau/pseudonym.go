package vau

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// nonceSize is the random component of a minted pseudonym.
const nonceSize = 16

// PseudonymGenerator mints and verifies user pseudonyms the way
// vau.rs's UserPseudonymGenerator does: self-verifying HMAC tokens, no
// server-side session table, so any server instance sharing the key can
// verify a pseudonym minted by another. Grounded on the HMAC-signed,
// server-memoryless token pattern in quantumlife-canon-core/internal/
// oauth/state.go's StateManager.
type PseudonymGenerator struct {
	key []byte
}

// NewPseudonymGenerator builds a generator keyed by key, which should be
// at least 32 bytes and kept stable across server restarts so pseudonyms
// minted before a restart still verify.
func NewPseudonymGenerator(key []byte) *PseudonymGenerator {
	return &PseudonymGenerator{key: key}
}

// Generate mints a fresh pseudonym: base64(nonce) "." base64(hmac(nonce)).
func (g *PseudonymGenerator) Generate() (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vau: generating pseudonym nonce: %w", err)
	}

	mac := hmac.New(sha256.New, g.key)
	mac.Write(nonce)
	sig := mac.Sum(nil)

	return base64.RawURLEncoding.EncodeToString(nonce) + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// Verify reports whether np is a pseudonym this generator's key could have
// minted. A malformed or forged pseudonym fails closed.
func (g *PseudonymGenerator) Verify(np string) bool {
	nonceB64, sigB64, ok := strings.Cut(np, ".")
	if !ok {
		return false
	}

	nonce, err := base64.RawURLEncoding.DecodeString(nonceB64)
	if err != nil {
		return false
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, g.key)
	mac.Write(nonce)
	expected := mac.Sum(nil)

	return hmac.Equal(sig, expected)
}
