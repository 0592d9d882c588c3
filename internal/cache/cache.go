// Package cache holds short-lived values that do not belong in the document
// store, such as issued evidence verifications.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// NoExpiry as a ttl keeps an entry until it is deleted
const NoExpiry time.Duration = -1

// Cache stores byte values under string keys for a limited time
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	// Take removes and returns an entry with its remaining lifetime
	Take(key string) ([]byte, time.Duration, bool)
	Delete(key string) error
}

// Key builds a namespaced cache key from parts
func Key(namespace string, parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return "extralife:v1:" + namespace + ":" + hex.EncodeToString(hash[:])
}
