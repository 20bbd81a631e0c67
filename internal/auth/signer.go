// Signer is adapted from the teacher's HMAC-SHA256 request signer
// (internal/auth/signer.go), generalized from Binance query-string
// signing to QPub's two signing uses: the static "keyId:keySecret"
// bearer header, and signing a TokenRequest for the high-security
// createTokenRequest + requestToken flow.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Signer holds the API key's two components and signs data with
// HMAC-SHA256 over the secret.
type Signer struct {
	keyID     string
	keySecret string
}

// NewSigner creates a Signer for the given keyId:keySecret API key pair.
func NewSigner(keyID, keySecret string) *Signer {
	return &Signer{keyID: keyID, keySecret: keySecret}
}

// KeyID returns the API key's public component.
func (s *Signer) KeyID() string { return s.keyID }

// KeySecret returns the API key's private component, used directly by
// the generateToken JWT-signing flow.
func (s *Signer) KeySecret() string { return s.keySecret }

// StaticAuthHeader renders the "keyId:keySecret" static API key header
// value (mode 1: static API key, §4.3).
func (s *Signer) StaticAuthHeader() string {
	return fmt.Sprintf("%s:%s", s.keyID, s.keySecret)
}

// Sign computes a hex-encoded HMAC-SHA256 signature over data.
func (s *Signer) Sign(data []byte) string {
	h := hmac.New(sha256.New, []byte(s.keySecret))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// NewTokenRequest builds and signs a TokenRequest carrying permissions
// and an optional alias: the server-side half of mode 4's
// createTokenRequest + requestToken flow (§4.3). It belongs to whatever
// backend component legitimately holds the API key's secret component —
// auth.Manager's own ModeTokenRequest never calls this; it only ever
// POSTs an already-signed TokenRequest supplied via
// options.WithPrebuiltTokenRequest, which is the entire point of mode 4
// being the "client never holds the key" mode. The signature covers the
// canonical JSON of every field but Signature itself.
func (s *Signer) NewTokenRequest(permissions map[string]string, alias string) (TokenRequest, error) {
	req := TokenRequest{
		KeyID:       s.keyID,
		Permissions: permissions,
		Alias:       alias,
		Timestamp:   time.Now().UnixMilli(),
	}

	signable, err := canonicalizeForSigning(req)
	if err != nil {
		return TokenRequest{}, err
	}
	req.Signature = s.Sign(signable)
	return req, nil
}

// VerifyTokenRequest re-derives the signature over req and compares it
// to req.Signature using a constant-time comparison.
func (s *Signer) VerifyTokenRequest(req TokenRequest) bool {
	unsigned := req
	unsigned.Signature = ""
	signable, err := canonicalizeForSigning(unsigned)
	if err != nil {
		return false
	}
	expected := s.Sign(signable)
	return hmac.Equal([]byte(expected), []byte(req.Signature))
}

func canonicalizeForSigning(req TokenRequest) ([]byte, error) {
	unsigned := req
	unsigned.Signature = ""
	return json.Marshal(unsigned)
}
