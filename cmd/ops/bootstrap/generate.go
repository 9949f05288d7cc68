package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// tokenByteLength gives 256 bits of entropy, 64 hex characters.
const tokenByteLength = 32

const triggerTokenCost = bcrypt.DefaultCost

// GenerateSecureToken returns a random lowercase hex token from crypto/rand.
func GenerateSecureToken() (string, error) {
	buf := make([]byte, tokenByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secure token: crypto/rand failed: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GenerateTriggerToken returns a fresh bearer token and the bcrypt hash
// stored as TRIGGER_TOKEN_HASH. Only the hash is persisted.
func GenerateTriggerToken() (token, hash string, err error) {
	token, err = GenerateSecureToken()
	if err != nil {
		return "", "", err
	}
	h, err := bcrypt.GenerateFromPassword([]byte(token), triggerTokenCost)
	if err != nil {
		return "", "", fmt.Errorf("hashing trigger token: %w", err)
	}
	return token, string(h), nil
}
