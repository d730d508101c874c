// Package token implements the signed capability tokens that bind a
// requester's email address to a single archive object. A token is pure
// data: everything needed to honor it is reconstructed from the verified
// payload, nothing is persisted.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification failure kinds. These are the only errors Verify returns;
// anything unexpected collapses into ErrBadSignature so an unverified
// payload is never treated as merely "expired" or "mismatched".
var (
	ErrBadSignature = errors.New("token signature invalid")
	ErrExpired      = errors.New("token expired")
	ErrFileMismatch = errors.New("token bound to a different file")
)

// Binding is the verified (email, file) pair carried by a token. It is the
// only trusted channel through which the confirmation flow learns which
// address is confirming which file.
type Binding struct {
	Email string
	File  string
}

type claims struct {
	Email string `json:"email"`
	File  string `json:"file"`
	jwt.RegisteredClaims
}

// Issuer mints capability tokens. The signing secret is process-wide
// configuration, loaded once at startup and never rotated mid-process.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer returns an Issuer signing with the given secret and TTL.
func NewIssuer(secret []byte, ttl time.Duration) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("empty signing secret")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token TTL must be > 0, got %s", ttl)
	}
	return &Issuer{secret: secret, ttl: ttl}, nil
}

// Issue mints a token binding email to file, valid from now until now+TTL.
func (i *Issuer) Issue(email, file string, now time.Time) (string, error) {
	c := claims{
		Email: email,
		File:  file,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verifier validates capability tokens against the shared signing secret.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier for the given secret.
func NewVerifier(secret []byte) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("empty signing secret")
	}
	return &Verifier{secret: secret}, nil
}

// Verify checks signature and expiry at the given instant and returns the
// bound pair. When expectedFile is non-empty the token must be bound to
// exactly that file; a mismatch is a rejection, not a lookup miss, because
// a capability is single-purpose. No payload field is trusted before the
// signature check passes.
func (v *Verifier) Verify(raw string, now time.Time, expectedFile string) (Binding, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	var c claims
	_, err := parser.ParseWithClaims(raw, &c, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Binding{}, ErrExpired
		default:
			// Malformed input, wrong algorithm, tampered payload or
			// signature: all fail closed as a signature failure.
			return Binding{}, ErrBadSignature
		}
	}
	if expectedFile != "" && c.File != expectedFile {
		return Binding{}, ErrFileMismatch
	}
	return Binding{Email: c.Email, File: c.File}, nil
}
