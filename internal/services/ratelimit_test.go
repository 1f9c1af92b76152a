package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/akagifreeez/relay-gateway/internal/services"
)

func TestMemoryRateLimiterEnforcesCeiling(t *testing.T) {
	ctx := context.Background()
	limiter := services.NewMemoryRateLimiter(time.Hour, 100)

	allowed := 0
	for i := 0; i < 10; i++ {
		if limiter.Allow(ctx, "key-a", 5) {
			allowed++
		}
	}
	// A full bucket admits the ceiling, then the long window blocks the rest.
	assert.Equal(t, 5, allowed)
}

func TestMemoryRateLimiterIsolatesKeys(t *testing.T) {
	ctx := context.Background()
	limiter := services.NewMemoryRateLimiter(time.Hour, 100)

	for i := 0; i < 5; i++ {
		limiter.Allow(ctx, "key-a", 5)
	}
	assert.False(t, limiter.Allow(ctx, "key-a", 5))
	assert.True(t, limiter.Allow(ctx, "key-b", 5))
}

func TestMemoryRateLimiterDefaultCeiling(t *testing.T) {
	ctx := context.Background()
	limiter := services.NewMemoryRateLimiter(time.Hour, 3)

	allowed := 0
	for i := 0; i < 10; i++ {
		if limiter.Allow(ctx, "anon", 0) {
			allowed++
		}
	}
	assert.Equal(t, 3, allowed)
}
