package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader is the header vendors and subscribers carry the payload
// signature in.
const SignatureHeader = "X-Webhook-Signature"

const signaturePrefix = "sha256="

// Sign computes the hex HMAC-SHA256 of payload under secret, in the
// "sha256=<hex>" form carried on the wire.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the HMAC over the exact raw payload bytes and compares
// it against the supplied signature in constant time. A mismatch means the
// event must be rejected before any business logic runs.
func Verify(payload []byte, signature string, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}

	supplied := strings.TrimPrefix(signature, signaturePrefix)
	suppliedBytes, err := hex.DecodeString(supplied)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	return hmac.Equal(expected, suppliedBytes)
}
