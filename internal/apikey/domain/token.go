package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
)

const (
	keyPrefix      = "pk_"
	keySecretBytes = 18
)

var keyPattern = regexp.MustCompile(`^pk_[0-9a-f]{36}$`)

// GenerateKey issues a new raw API key: the "pk_" prefix followed by 36
// lowercase hex characters drawn from crypto/rand.
func GenerateKey() (string, error) {
	buf := make([]byte, keySecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return keyPrefix + hex.EncodeToString(buf), nil
}

// ValidKeyFormat reports whether raw matches the issued key shape. Lookups
// for malformed keys can be skipped entirely.
func ValidKeyFormat(raw string) bool {
	return keyPattern.MatchString(raw)
}
