// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// =============================================================================
// Configuration
// =============================================================================

// RateLimitConfig configures the per-caller HTTP rate limiter.
//
// This limiter protects the gateway itself from a misbehaving agent
// hammering the submission endpoint. It is separate from the remediation
// rate tracker, which counts executed actions per environment and team.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained refill rate per caller.
	RequestsPerSecond float64

	// Burst is the token bucket size per caller.
	Burst int

	// CallerTTL controls how long an idle caller's bucket is kept
	// before it is swept.
	CallerTTL time.Duration
}

// DefaultRateLimitConfig returns sensible defaults for a single-tenant
// deployment: 20 req/s sustained with bursts of 40 per caller.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 20,
		Burst:             40,
		CallerTTL:         10 * time.Minute,
	}
}

// =============================================================================
// Rate Limiter
// =============================================================================

// callerLimiter pairs a token bucket with the caller's last activity,
// so idle buckets can be swept.
type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces a token-bucket limit per caller.
//
// # Description
//
// Each caller gets an independent bucket. Callers are keyed by the
// authenticated user ID when AuthMiddleware ran earlier in the chain,
// falling back to client IP otherwise. Buckets for idle callers are
// swept opportunistically so the map does not grow without bound.
//
// # Thread Safety
//
// Safe for concurrent use. The caller map is guarded by a mutex; the
// buckets themselves are rate.Limiter, which is internally synchronized.
type RateLimiter struct {
	mu        sync.Mutex
	callers   map[string]*callerLimiter
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time

	// now is the time source, injectable for tests.
	now func() time.Time
}

// NewRateLimiter creates a rate limiter with the given configuration.
// Zero or negative config fields fall back to the defaults.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	defaults := DefaultRateLimitConfig()
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if config.Burst <= 0 {
		config.Burst = defaults.Burst
	}
	if config.CallerTTL <= 0 {
		config.CallerTTL = defaults.CallerTTL
	}

	return &RateLimiter{
		callers:   make(map[string]*callerLimiter),
		limit:     rate.Limit(config.RequestsPerSecond),
		burst:     config.Burst,
		ttl:       config.CallerTTL,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// Middleware returns the Gin middleware enforcing the limit.
//
// Requests over the limit receive 429 with a Retry-After hint.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := callerKey(c)
		if !rl.limiterFor(key).Allow() {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(rl.limit)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// limiterFor returns the bucket for the caller, creating it on first use.
// Stale callers are swept at most once per TTL interval.
func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > rl.ttl {
		for k, cl := range rl.callers {
			if now.Sub(cl.lastSeen) > rl.ttl {
				delete(rl.callers, k)
			}
		}
		rl.lastSweep = now
	}

	cl, ok := rl.callers[key]
	if !ok {
		cl = &callerLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.callers[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

// callerKey identifies the caller for bucket lookup. Authenticated
// callers are keyed by user ID so an agent behind a NAT does not share
// a bucket with its neighbors.
func callerKey(c *gin.Context) string {
	if authInfo := GetAuthInfo(c); authInfo != nil && authInfo.UserID != "" {
		return "user:" + authInfo.UserID
	}
	return "ip:" + c.ClientIP()
}

// retryAfterSeconds converts the refill rate into a whole-second hint,
// never less than 1.
func retryAfterSeconds(limit rate.Limit) int {
	if limit <= 0 {
		return 1
	}
	seconds := int(1 / float64(limit))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
