package forwarding

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

// Result is the outcome of one forwarding attempt. Forwarding is best
// effort, so failures carry an error message instead of an error value.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Forwarder sends a stored conversion to one ad platform.
type Forwarder interface {
	Name() string
	Enabled() bool
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// hashSHA256 hex-encodes the SHA-256 of s. Ad platforms require contact
// identifiers pre-hashed this way.
func hashSHA256(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func hashEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	return hashSHA256(email)
}

func hashPhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return hashSHA256(b.String())
}
