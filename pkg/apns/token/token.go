// Package token builds and checks the ES256 provider tokens APNs accepts in
// place of a TLS client certificate.
//
// A token is a compact JWT: a header carrying alg, kid and typ, a payload
// carrying iss (the team id) and iat (issue time in seconds), and an ECDSA
// P-256 signature over SHA-256. Each segment is base64url encoded without
// padding.
package token

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apnstoken "github.com/sideshow/apns2/token"
)

// Algorithm is the only signing algorithm APNs accepts for provider tokens.
const Algorithm = "ES256"

var (
	ErrMissingKey    = errors.New("signing key is required")
	ErrMissingIssuer = errors.New("issuer is required")
	ErrMissingKeyID  = errors.New("key id is required")
)

// SigningError reports that a token could not be produced from the supplied
// key material.
type SigningError struct {
	Cause error
}

func (e *SigningError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return "signing error"
	}
	return "signing error: " + e.Cause.Error()
}

func (e *SigningError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Sign returns the compact token for issuer and keyID stamped with issuedAt.
// issuedAt is rounded to the nearest second.
func Sign(issuer, keyID string, issuedAt time.Time, key *ecdsa.PrivateKey) (string, error) {
	if key == nil {
		return "", &SigningError{Cause: ErrMissingKey}
	}
	if strings.TrimSpace(issuer) == "" {
		return "", &SigningError{Cause: ErrMissingIssuer}
	}
	if strings.TrimSpace(keyID) == "" {
		return "", &SigningError{Cause: ErrMissingKeyID}
	}

	t := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": issuer,
		"iat": issuedAt.Round(time.Second).Unix(),
	})
	t.Header["kid"] = keyID

	signed, err := t.SignedString(key)
	if err != nil {
		return "", &SigningError{Cause: err}
	}
	return signed, nil
}

// Verify recomputes the signing input of tokenString and checks its signature
// against key. A nil return means the signature is valid.
func Verify(tokenString string, key *ecdsa.PublicKey) error {
	if key == nil {
		return ErrMissingKey
	}

	parsed, err := jwt.Parse(tokenString, func(*jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{Algorithm}))
	if err != nil {
		return fmt.Errorf("verify token: %w", err)
	}
	if !parsed.Valid {
		return fmt.Errorf("verify token: %w", jwt.ErrTokenSignatureInvalid)
	}
	return nil
}

// ParseAuthKey parses the contents of an APNs .p8 auth key.
func ParseAuthKey(p8 []byte) (*ecdsa.PrivateKey, error) {
	key, err := apnstoken.AuthKeyFromBytes(p8)
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs auth key: %w", err)
	}
	return key, nil
}

// LoadAuthKey reads and parses an APNs .p8 auth key file.
func LoadAuthKey(path string) (*ecdsa.PrivateKey, error) {
	key, err := apnstoken.AuthKeyFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs auth key %q: %w", path, err)
	}
	return key, nil
}

// LoadPublicKey reads a PEM encoded ECDSA public key.
func LoadPublicKey(path string) (*ecdsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key %q: %w", path, err)
	}

	key, err := jwt.ParseECPublicKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key %q: %w", path, err)
	}
	return key, nil
}
