// Package webhook mirrors local order changes to the provider's webhook
// ingestion endpoint.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the hex HMAC-SHA256 of body.
func (s *Signer) Sign(body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Header is the X-Webhook-Signature value for body.
func (s *Signer) Header(body []byte) string {
	return signaturePrefix + s.Sign(body)
}

// Verify checks a header value produced by Header.
func (s *Signer) Verify(body []byte, header string) bool {
	sig := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(header), signaturePrefix))
	return hmac.Equal([]byte(sig), []byte(s.Sign(body)))
}
