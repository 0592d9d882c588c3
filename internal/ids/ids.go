package ids

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Prefixes for human-readable numbers
const (
	PolicyPrefix = "EL"
	ClaimPrefix  = "CL"
)

const suffixAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// New returns a random entity id
func New() string {
	return uuid.New().String()
}

// Number builds "<prefix>-<last 8 digits of unix millis>-<4 random base36>".
// Uniqueness is probabilistic; callers check for collisions.
func Number(prefix string, now time.Time) string {
	ms := strconv.FormatInt(now.UnixMilli(), 10)
	if len(ms) > 8 {
		ms = ms[len(ms)-8:]
	}

	var b strings.Builder
	for i := 0; i < 4; i++ {
		b.WriteByte(suffixAlphabet[rand.IntN(len(suffixAlphabet))])
	}
	return fmt.Sprintf("%s-%s-%s", prefix, ms, b.String())
}

// Unique calls Number until taken reports false, up to a few attempts
func Unique(prefix string, now time.Time, taken func(string) bool) (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		n := Number(prefix, now)
		if !taken(n) {
			return n, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique %s number", prefix)
}

// Slug lower-cases s, drops accents and keeps only ASCII letters and digits
func Slug(s string) string {
	var b strings.Builder
	for _, r := range norm.NFD.String(strings.ToLower(s)) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
