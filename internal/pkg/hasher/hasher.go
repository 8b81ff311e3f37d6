// Package hasher normalizes guest contact data and hashes it for
// privacy-safe transmission to marketing APIs.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	hexDigestPattern = regexp.MustCompile(`^[a-fA-F0-9]{32,64}$`)
	e164Pattern      = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)
	nonDigitPattern  = regexp.MustCompile(`[^0-9]`)

	validate = validator.New()
)

// Country codes whose national trunk prefix "0" is wrongly kept when people
// write the number in international form (+49 0171 ... instead of +49 171 ...).
var trunkZeroCountryCodes = []string{
	"353", "358", "31", "32", "33", "41", "43", "44", "45", "46", "47", "49", "61", "64",
}

// SHA256 returns the lowercase hex SHA-256 digest of value, or "" for an empty value.
func SHA256(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// IsHexDigest reports whether s looks like an upstream hash (32 to 64 hex chars).
func IsHexDigest(s string) bool {
	return hexDigestPattern.MatchString(strings.TrimSpace(s))
}

// NormalizeEmail trims and lowercases an email address. Invalid addresses yield "".
func NormalizeEmail(raw string) string {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return ""
	}
	if err := validate.Var(email, "email"); err != nil {
		return ""
	}
	return email
}

// NormalizePhone converts a free-form phone number into "+<digits>" form.
// Numbers without an international prefix or with an impossible length yield "".
func NormalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "(0)", "")

	international := strings.HasPrefix(s, "+")
	digits := nonDigitPattern.ReplaceAllString(s, "")
	if !international && strings.HasPrefix(digits, "00") {
		digits = digits[2:]
		international = true
	}
	if digits == "" {
		return ""
	}
	if !international {
		// A national number cannot be mapped to a country; a leading zero
		// means exactly that.
		if strings.HasPrefix(digits, "0") || len(digits) < 10 {
			return ""
		}
	}

	for _, cc := range trunkZeroCountryCodes {
		if strings.HasPrefix(digits, cc+"0") {
			digits = cc + digits[len(cc)+1:]
			break
		}
	}

	phone := "+" + digits
	if !e164Pattern.MatchString(phone) {
		return ""
	}
	return phone
}

// HashEmail normalizes then hashes an email; invalid or empty input yields "".
func HashEmail(raw string) string {
	return SHA256(NormalizeEmail(raw))
}

// HashPhone normalizes then hashes a phone number in its "+"-prefixed form.
func HashPhone(raw string) string {
	return SHA256(NormalizePhone(raw))
}
