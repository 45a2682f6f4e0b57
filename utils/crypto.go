package utils

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// SignHMACHex возвращает hex(HMAC-SHA256(key, message))
func SignHMACHex(key []byte, message string) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyHMACHex сравнивает hex-подпись с вычисленной за постоянное время.
// Сравнение посимвольное: подпись в другом регистре не принимается.
func VerifyHMACHex(key []byte, message, signature string) bool {
	expected := SignHMACHex(key, message)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// GenerateSecureToken генерирует случайный токен в base64url
func GenerateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
