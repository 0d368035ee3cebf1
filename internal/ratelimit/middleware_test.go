package ratelimit

import (
	"testing"

	"github.com/truegather/backend/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestStandardMiddleware(t *testing.T) {
	// Create config with string rate limit values
	cfg := &config.Config{
		RateLimitApiGlobal:   "100-M",
		RateLimitApiPublic:   "100-M",
		RateLimitApiRooms:    "50-M",
		RateLimitApiMessages: "200-M",
		RateLimitWsIp:        "50-M",
		RateLimitWsUser:      "100-M",
	}

	// Create rate limiter
	rl, err := NewRateLimiter(cfg, nil)
	assert.NoError(t, err)

	// Get standard middleware
	middleware := rl.StandardMiddleware()
	assert.NotNil(t, middleware)
}
