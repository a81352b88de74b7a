package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// GenerateOpaque genera un token opaco aleatorio (base64url sin padding).
func GenerateOpaque(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("token: random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewSessionID genera un identificador de sesión no adivinable: 32 bytes de
// crypto/rand más el timestamp de emisión en base36. Nunca secuencial.
func NewSessionID() (string, error) {
	t, err := GenerateOpaque(32)
	if err != nil {
		return "", err
	}
	return t + "." + strconv.FormatInt(time.Now().UnixNano(), 36), nil
}

// SHA256Base64URL devuelve sha256(input) en base64url sin padding.
// Usado para guardar backup codes hasheados en el credential store.
func SHA256Base64URL(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
