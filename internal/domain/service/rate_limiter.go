package service

import (
	"context"
	"time"
)

// RateLimitResult is the outcome of one admission check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAfter is the time until the oldest counted request leaves the window.
	ResetAfter time.Duration
}

// RateLimiter admits or rejects requests per key within a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (RateLimitResult, error)
	// Name identifies the backing store in metrics ("memory", "redis").
	Name() string
}
