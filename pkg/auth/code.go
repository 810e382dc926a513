package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// CodeBytes is the entropy of a verification code (160 bits).
const CodeBytes = 20

// CodeLength is the length of the hex-encoded code.
const CodeLength = CodeBytes * 2

// GenerateCode returns a fresh lowercase hex verification code.
func GenerateCode() (string, error) {
	b := make([]byte, CodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return hex.EncodeToString(b), nil
}
