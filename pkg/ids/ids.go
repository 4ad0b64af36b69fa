// Package ids provides identifier generation and API-key issuance/hashing
// for gitswarm agents. UUIDs are rendered in canonical 36-char form.
package ids

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// New returns a new 128-bit UUID in canonical 36-char form.
func New() string {
	return uuid.New().String()
}

// Valid reports whether s is a canonical-form UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

const apiKeyPrefix = "gsw_"
const apiKeyRandomLen = 32

var base62Alphabet = []byte("0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz")

// IssueAPIKey generates a new plaintext API key and its bcrypt hash.
// The plaintext is returned to the caller exactly once and is never
// persisted; only the hash is stored (spec.md §3 Agent).
func IssueAPIKey() (plaintext string, hash string, err error) {
	raw := make([]byte, apiKeyRandomLen)
	if _, err = rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generate api key: %w", err)
	}
	buf := make([]byte, apiKeyRandomLen)
	for i, b := range raw {
		buf[i] = base62Alphabet[int(b)%len(base62Alphabet)]
	}
	plaintext = apiKeyPrefix + string(buf)

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hash api key: %w", err)
	}
	return plaintext, string(hashBytes), nil
}

// VerifyAPIKey reports whether plaintext matches the stored bcrypt hash.
// bcrypt's comparison is already constant-time with respect to the secret.
func VerifyAPIKey(plaintext, hash string) bool {
	if hash == "" || plaintext == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
