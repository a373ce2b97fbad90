package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
)

const (
	tokenSecretSize = 32
)

// CodeAlphabet excludes ambiguous glyphs (0/O, 1/I) so codes survive being
// read aloud or retyped.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewTokenSecret returns a fresh high-entropy secret for a single-use token.
func NewTokenSecret() ([tokenSecretSize]byte, error) {
	var secret [tokenSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashTokenSecret reduces a raw secret to the only form ever persisted.
func HashTokenSecret(secret []byte) [32]byte {
	return sha256.Sum256(secret)
}

// EncodeToken renders a raw secret for one-time delivery to the caller.
func EncodeToken(secret [tokenSecretSize]byte) string {
	return base64.RawURLEncoding.EncodeToString(secret[:])
}

// DecodeToken reverses [EncodeToken]. Malformed input is an error, not a
// panic; attackers control this value.
func DecodeToken(token string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}
	if len(raw) != tokenSecretSize {
		return nil, errors.New("invalid token size")
	}
	return raw, nil
}

// NewCode returns a random string over [CodeAlphabet].
func NewCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := randomIndex(len(CodeAlphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(CodeAlphabet[n])
	}
	return b.String(), nil
}

// NewDigits returns a random numeric code, zero-padded to length.
func NewDigits(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := randomIndex(10)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n))
	}
	return b.String(), nil
}

// FormatCode splits a code in half with a dash for readability.
func FormatCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalizeCode strips formatting a user may have preserved from display.
func CanonicalizeCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// SaltedCodeHash binds a code hash to its owner so identical codes issued to
// different users never collide in storage.
func SaltedCodeHash(userID, canonicalCode string) [32]byte {
	data := make([]byte, 0, len(userID)+1+len(canonicalCode))
	data = append(data, userID...)
	data = append(data, 0)
	data = append(data, canonicalCode...)
	return sha256.Sum256(data)
}

func randomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
