package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifySignature checks the X-Sign header: hex-encoded HMAC-SHA256 over the
// raw request body with the shared webhook secret.
func (g *MonoGateway) VerifySignature(rawBody []byte, signature string) bool {
	if g.webhookSecret == "" || signature == "" {
		return false
	}
	h := hmac.New(sha256.New, []byte(g.webhookSecret))
	h.Write(rawBody)
	expected := hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}
