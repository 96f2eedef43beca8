package signing

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrEmptySecret = errors.New("signing secret is empty")

// Secret wraps the merchant hash secret so it cannot leak through fmt or slog.
type Secret struct {
	key []byte
}

func NewSecret(s string) Secret {
	return Secret{key: []byte(s)}
}

func (Secret) String() string   { return "[redacted]" }
func (Secret) GoString() string { return "[redacted]" }

func (s Secret) empty() bool { return len(s.key) == 0 }

// Engine signs and verifies canonical strings with HMAC-SHA512.
type Engine struct {
	secret Secret
}

func NewEngine(secret Secret) (*Engine, error) {
	if secret.empty() {
		return nil, ErrEmptySecret
	}
	key := make([]byte, len(secret.key))
	copy(key, secret.key)
	return &Engine{secret: Secret{key: key}}, nil
}

// Sign returns the lowercase hex digest of canonical.
func (e *Engine) Sign(canonical string) string {
	return hex.EncodeToString(e.mac(canonical))
}

// Verify recomputes the digest and compares it in constant time. Hex letters
// are case-folded; any other difference, including whitespace, fails.
func (e *Engine) Verify(canonical, claimedHex string) bool {
	claimed, err := hex.DecodeString(strings.ToLower(claimedHex))
	if err != nil {
		return false
	}
	return hmac.Equal(e.mac(canonical), claimed)
}

func (e *Engine) mac(canonical string) []byte {
	h := hmac.New(sha512.New, e.secret.key)
	h.Write([]byte(canonical))
	return h.Sum(nil)
}
