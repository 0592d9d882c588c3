package juno

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"github.com/ppiankov/extralife/internal/clock"
)

// Signer produces Bitso-style HMAC request signatures
type Signer struct {
	key    string
	secret string
	clock  clock.Clock
}

// NewSigner creates a signer for an API key pair
func NewSigner(key, secret string, clk clock.Clock) *Signer {
	return &Signer{key: key, secret: secret, clock: clk}
}

// Signature is hex(HMAC-SHA256(secret, timestamp + METHOD + path + body))
func (s *Signer) Signature(timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte(timestamp + strings.ToUpper(method) + path + body))
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign sets the authentication headers on req. path is the request path
// relative to the API root, including any query string.
func (s *Signer) Sign(req *http.Request, path string, body []byte) {
	ts := strconv.FormatInt(s.clock.Now().Unix(), 10)
	sig := s.Signature(ts, req.Method, path, string(body))

	req.Header.Set("Authorization", "Bitso "+s.key+":"+sig)
	req.Header.Set("Bitso-Timestamp", ts)
	req.Header.Set("Bitso-Signature", sig)
	req.Header.Set("Content-Type", "application/json")
}
