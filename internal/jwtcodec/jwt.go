// Package jwtcodec decodes, inspects, and signs JWTs for the AuthManager.
// Signing uses HS256 (HMAC with the API key's secret component) named
// explicitly in the token header's "alg" field, per the Open Question
// resolved in DESIGN.md.
package jwtcodec

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/qpub/qpub-client-go/internal/errs"
)

const Algorithm = "HS256"

// Claims is the decoded payload of a QPub bearer token: at minimum an
// expiration, plus optional alias and permission map.
type Claims struct {
	jwt.RegisteredClaims
	Alias       string            `json:"alias,omitempty"`
	Permissions map[string]string `json:"permissions,omitempty"`
	KeyID       string            `json:"kid,omitempty"`
}

// Sign constructs and signs a JWT carrying the given claims with the
// named algorithm, using secret as the HMAC key (the API key's private
// component).
func Sign(claims Claims, secret string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", errs.Wrap("jwtcodec.sign", errs.KindInvalidToken, "failed to sign token", err)
	}
	return signed, nil
}

// Decode performs a strict decode: three base64url segments separated by
// dots, with signature verification against secret. Malformed input or a
// bad signature fails with KindInvalidToken.
func Decode(raw string, secret string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{Algorithm}))
	_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, errs.InvalidToken("jwtcodec.decode", err)
	}
	if claims.ExpiresAt == nil {
		return nil, errs.InvalidToken("jwtcodec.decode", nil)
	}
	return claims, nil
}

// Inspect decodes the payload without verifying the signature — used to
// read the `exp` field off a server-issued bearer token whose signing
// key the client does not hold.
func Inspect(raw string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	_, _, err := parser.ParseUnverified(raw, claims)
	if err != nil {
		return nil, errs.InvalidToken("jwtcodec.inspect", err)
	}
	if claims.ExpiresAt == nil {
		return nil, errs.InvalidToken("jwtcodec.inspect", nil)
	}
	return claims, nil
}

// NewClaims builds a Claims value with the given expiry, alias, and
// permissions, rounded to second precision per the round-trip property
// in spec.md §8.
func NewClaims(expiresAt time.Time, alias string, permissions map[string]string, keyID string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt.Truncate(time.Second)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Truncate(time.Second)),
		},
		Alias:       alias,
		Permissions: permissions,
		KeyID:       keyID,
	}
}
