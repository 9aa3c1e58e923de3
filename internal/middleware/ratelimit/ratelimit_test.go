package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimitedApp(rl *RateLimiter) *fiber.App {
	app := fiber.New(fiber.Config{ProxyHeader: fiber.HeaderXForwardedFor})
	app.Post("/dashboards", rl.Middleware(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})
	return app
}

func send(t *testing.T, app *fiber.App, ip string, headers map[string]string) int {
	t.Helper()
	req := httptest.NewRequest("POST", "/dashboards", nil)
	req.Header.Set(fiber.HeaderXForwardedFor, ip)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestMiddlewareLimitsPerClient(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 2})
	defer rl.Stop()
	app := newLimitedApp(rl)

	assert.Equal(t, fiber.StatusCreated, send(t, app, "10.0.0.1", nil))
	assert.Equal(t, fiber.StatusCreated, send(t, app, "10.0.0.2", nil))
	assert.Equal(t, fiber.StatusCreated, send(t, app, "10.0.0.1", nil))
	assert.Equal(t, fiber.StatusTooManyRequests, send(t, app, "10.0.0.1", nil))
	assert.Equal(t, fiber.StatusCreated, send(t, app, "10.0.0.2", nil))
	assert.Equal(t, fiber.StatusTooManyRequests, send(t, app, "10.0.0.2", nil))

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	assert.Len(t, rl.buckets, 2)
	assert.Contains(t, rl.buckets, "10.0.0.1")
	assert.Contains(t, rl.buckets, "10.0.0.2")
}

func TestMiddlewareIgnoresClientSuppliedID(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 1})
	defer rl.Stop()
	app := newLimitedApp(rl)

	assert.Equal(t, fiber.StatusCreated, send(t, app, "10.0.0.1", map[string]string{"X-Client-ID": "a"}))
	assert.Equal(t, fiber.StatusTooManyRequests, send(t, app, "10.0.0.1", map[string]string{"X-Client-ID": "b"}))
	assert.Equal(t, fiber.StatusTooManyRequests, send(t, app, "10.0.0.1", nil))
}

func TestBucketRefills(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 60})
	defer rl.Stop()

	clock := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return clock }

	for i := 0; i < 60; i++ {
		require.True(t, rl.Allow("ip"))
	}
	assert.False(t, rl.Allow("ip"))

	clock = clock.Add(1500 * time.Millisecond)
	assert.True(t, rl.Allow("ip"))
	assert.False(t, rl.Allow("ip"))

	clock = clock.Add(500 * time.Millisecond)
	assert.True(t, rl.Allow("ip"))
}
