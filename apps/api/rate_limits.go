package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

const (
	sessionRateLimitRequests   = 10
	sessionRateLimitWindow     = time.Minute
	reportRateLimitRequests    = 8
	reportRateLimitWindow      = 5 * time.Minute
	rateLimiterIdleTTL         = 10 * time.Minute
	rateLimiterCleanupInterval = time.Minute
)

type rateBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipRateLimiter is a token bucket per key that refills requests tokens per
// window. Buckets unused for rateLimiterIdleTTL are pruned.
type ipRateLimiter struct {
	clock clock.Clock
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rateBucket
}

func newIPRateLimiter(clk clock.Clock, requests int, window time.Duration) *ipRateLimiter {
	return &ipRateLimiter{
		clock:   clk,
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   requests,
		buckets: make(map[string]*rateBucket),
	}
}

func (l *ipRateLimiter) Allow(key string) bool {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[key]
	if !ok {
		bucket = &rateBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.AllowN(now, 1)
}

func (l *ipRateLimiter) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	pruned := 0
	for key, bucket := range l.buckets {
		if now.Sub(bucket.lastSeen) >= rateLimiterIdleTTL {
			delete(l.buckets, key)
			pruned++
		}
	}
	return pruned
}

func (l *ipRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (a *App) startRateLimiterCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := a.clock.Ticker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				a.sessionLimiter.Prune(now)
				a.reportLimiter.Prune(now)
			}
		}
	}()
}

var errSessionRateLimited = &apiError{
	Status:  http.StatusTooManyRequests,
	Code:    "rate_limited",
	Message: "Too many new sessions from this IP. Please retry later.",
}

var errReportRateLimited = &apiError{
	Status:  http.StatusTooManyRequests,
	Code:    "rate_limited",
	Message: "Too many reports from this IP. Please retry later.",
}
