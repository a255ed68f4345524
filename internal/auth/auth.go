// Package auth guards the admin API with a bcrypt-hashed bearer key.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidKey is returned when a presented key does not match the hash.
var ErrInvalidKey = errors.New("auth: invalid admin key")

// GenerateAdminKey creates a new admin key with the "ml_" prefix followed by
// 32 URL-safe random characters, and returns it with its bcrypt hash.
func GenerateAdminKey() (plaintext, hash string, err error) {
	b := make([]byte, 24) // 24 bytes -> 32 base64url chars
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generating random bytes: %w", err)
	}

	plaintext = "ml_" + base64.RawURLEncoding.EncodeToString(b)
	hash, err = HashAdminKey(plaintext)
	if err != nil {
		return "", "", err
	}
	return plaintext, hash, nil
}

// HashAdminKey returns the bcrypt hash of key.
func HashAdminKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing admin key: %w", err)
	}
	return string(hash), nil
}

// VerifyAdminKey checks key against a bcrypt hash.
func VerifyAdminKey(hash, key string) error {
	if hash == "" || key == "" {
		return ErrInvalidKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		return ErrInvalidKey
	}
	return nil
}
