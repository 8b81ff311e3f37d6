package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sum(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func TestSHA256(t *testing.T) {
	assert.Equal(t, "", SHA256(""))
	got := SHA256("x@y.com")
	assert.Equal(t, sum("x@y.com"), got)
	assert.Len(t, got, 64)
	assert.Equal(t, got, SHA256("x@y.com"))
}

func TestIsHexDigest(t *testing.T) {
	assert.True(t, IsHexDigest(sum("a")))
	assert.True(t, IsHexDigest("0123456789abcdef0123456789ABCDEF"))
	assert.False(t, IsHexDigest("abc"))
	assert.False(t, IsHexDigest("zz23456789abcdef0123456789abcdef"))
	assert.False(t, IsHexDigest(sum("a")+"00"))
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "x@y.com", NormalizeEmail("  X@Y.COM "))
	assert.Equal(t, "", NormalizeEmail("not-an-email"))
	assert.Equal(t, "", NormalizeEmail(""))
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+39 333 123 4567", "+393331234567"},
		{"0039 333 1234567", "+393331234567"},
		{"+49 (0) 171 1234567", "+491711234567"},
		{"+49 0171 1234567", "+491711234567"},
		{"+44 020 7946 0018", "+442079460018"},
		{"3331234567", "+3331234567"},
		{"0333 1234567", ""},
		{"12345", ""},
		{"+0123456789", ""},
		{"", ""},
		{"phone", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhone(tt.in))
		})
	}
}

func TestHashHelpers(t *testing.T) {
	assert.Equal(t, sum("x@y.com"), HashEmail("X@Y.COM"))
	assert.Equal(t, "", HashEmail("broken"))
	assert.Equal(t, sum("+393331234567"), HashPhone("+39 333 1234567"))
	assert.Equal(t, "", HashPhone("abc"))
}
