package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("in internal/auth/password.go/HashPassword(): error while `bcrypt.GenerateFromPassword()` calling: %w", err)
	}
	return string(hash), nil
}

// CorrectPassword reports whether candidate matches the stored hash.
func CorrectPassword(hash, candidate string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
}

// NewResetToken returns a random reset token and the hash stored in its place.
func NewResetToken() (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("in internal/auth/password.go/NewResetToken(): error while `rand.Read()` calling: %w", err)
	}

	token := hex.EncodeToString(raw)
	return token, HashResetToken(token), nil
}

// HashResetToken is the sha256 hex digest of a reset token.
func HashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
