package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strings"
)

const signaturePrefix = "sha256="

// SignatureHeaders lists the accepted signature headers in lookup order.
var SignatureHeaders = []string{"x-creem-signature", "creem-signature"}

// VerifySignature checks a hex HMAC-SHA256 of the raw payload, with or without
// the "sha256=" prefix. An absent header verifies (fail-open); callers that need
// fail-closed behavior check for the empty header first.
func VerifySignature(payload []byte, signatureHeader, secret string) bool {
	sig := strings.ToLower(strings.TrimSpace(signatureHeader))
	if sig == "" {
		return true
	}
	sig = strings.TrimPrefix(sig, signaturePrefix)

	decodedSig, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return verifyHMAC(payload, decodedSig, []byte(secret), sha256.New)
}

// Sign returns the hex digest VerifySignature accepts.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHMAC(payload, expectedSig, secret []byte, hashFunc func() hash.Hash) bool {
	mac := hmac.New(hashFunc, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expectedSig)
}
