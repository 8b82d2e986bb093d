package util

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashOwnerKey returns a filesystem-safe identifier for an owner ID.
func HashOwnerKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashCPF returns the one-way hash stored for a CPF. Punctuation is ignored so
// "123.456.789-09" and "12345678909" hash the same. A non-empty secret switches
// to HMAC-SHA256. Empty input returns "".
func HashCPF(secret, cpf string) string {
	digits := DigitsOnly(cpf)
	if digits == "" {
		return ""
	}
	if secret == "" {
		sum := sha256.Sum256([]byte(digits))
		return hex.EncodeToString(sum[:])
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(digits))
	return hex.EncodeToString(mac.Sum(nil))
}

// CPFHasher returns HashCPF bound to a secret.
func CPFHasher(secret string) func(string) string {
	return func(cpf string) string { return HashCPF(secret, cpf) }
}

// DigitsOnly drops every non-digit rune.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
