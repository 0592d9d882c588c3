package worker

import (
	"context"
	"net/url"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// BucketIdleTTL is how long an unused bucket is kept
const BucketIdleTTL = 10 * time.Minute

// Limiter keeps one token bucket per key (client IP, upstream host).
// Buckets idle for BucketIdleTTL are dropped, so a key that returns later
// starts with a full bucket.
type Limiter struct {
	mu      sync.Mutex
	buckets *gocache.Cache
	rate    rate.Limit
	burst   int
}

// NewLimiter creates a new keyed rate limiter
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 5
	}

	return &Limiter{
		buckets: gocache.New(BucketIdleTTL, BucketIdleTTL),
		rate:    rate.Limit(requestsPerSecond),
		burst:   burst,
	}
}

// Wait blocks until key may proceed or ctx ends
func (l *Limiter) Wait(ctx context.Context, key string) error {
	return l.bucket(key).Wait(ctx)
}

// Allow reports whether key may proceed now, consuming a token if so
func (l *Limiter) Allow(key string) bool {
	return l.bucket(key).Allow()
}

// WaitURL waits on the bucket of the URL's host
func (l *Limiter) WaitURL(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	return l.Wait(ctx, parsed.Host)
}

// bucket returns the key's bucket and refreshes its idle deadline
func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.buckets.Get(key); ok {
		b := v.(*rate.Limiter)
		l.buckets.SetDefault(key, b)
		return b
	}

	b := rate.NewLimiter(l.rate, l.burst)
	l.buckets.SetDefault(key, b)
	return b
}

// Len returns the number of tracked keys
func (l *Limiter) Len() int {
	return l.buckets.ItemCount()
}
