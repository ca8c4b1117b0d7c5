package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrExpiredToken = errors.New("session token expired")
)

// Signer issues and verifies tokens of the form
// base64(subject).expiryUnix.base64(hmac).
type Signer struct {
	secret []byte
}

func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

func (s *Signer) Sign(subject string, expires time.Time) string {
	payload := base64.RawURLEncoding.EncodeToString([]byte(subject)) + "." + strconv.FormatInt(expires.Unix(), 10)
	return payload + "." + s.mac(payload)
}

// Verify returns the subject of a token that carries a valid signature and
// has not expired at now.
func (s *Signer) Verify(token string, now time.Time) (string, error) {
	i := strings.LastIndexByte(token, '.')
	if i < 0 {
		return "", ErrInvalidToken
	}
	payload, sig := token[:i], token[i+1:]
	if !hmac.Equal([]byte(sig), []byte(s.mac(payload))) {
		return "", ErrInvalidToken
	}

	encoded, exp, ok := strings.Cut(payload, ".")
	if !ok {
		return "", ErrInvalidToken
	}
	unix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return "", ErrInvalidToken
	}
	if !now.Before(time.Unix(unix, 0)) {
		return "", ErrExpiredToken
	}
	subject, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(subject) == 0 {
		return "", ErrInvalidToken
	}
	return string(subject), nil
}

func (s *Signer) mac(payload string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
