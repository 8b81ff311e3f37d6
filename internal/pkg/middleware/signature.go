package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-HIC-Signature"

// WebhookSignature verifies the body signature when secret is set. With an
// empty secret every request passes and only the token guards the route.
func WebhookSignature(secret string) fiber.Handler {
	secret = strings.TrimSpace(secret)
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Next()
		}
		if !VerifySignature(c.Body(), c.Get(SignatureHeader), secret) {
			log.Warnf("[Signature] Rejected webhook from %s: bad or missing %s", c.IP(), SignatureHeader)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"ok": false, "error": "invalid_signature"})
		}
		return c.Next()
	}
}

// VerifySignature checks a hex HMAC-SHA256 of payload. An optional
// "sha256=" prefix is accepted.
func VerifySignature(payload []byte, signatureHeader, secret string) bool {
	sig := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(signatureHeader)), "sha256=")
	if sig == "" || secret == "" {
		return false
	}

	decodedSig, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), decodedSig)
}
