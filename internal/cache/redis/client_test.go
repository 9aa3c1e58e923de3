package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewClientWithAddr(mr.Addr(), "", 0, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestConnectClosesClientOnPingFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	rc := goredis.NewClient(&goredis.Options{Addr: addr, MaxRetries: -1})
	_, err := connect(rc, time.Minute)
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to connect to redis")
	assert.ErrorIs(t, rc.Ping(context.Background()).Err(), goredis.ErrClosed)

	_, err = NewClientWithAddr(addr, "", 0, time.Minute)
	assert.Error(t, err)
}

func TestInsightsRoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	miss, err := c.GetInsights(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, miss)

	require.NoError(t, c.SetInsights(ctx, "abc", &Insights{Text: "bar chart of sales", Model: "m", PromptTokens: 3}))

	assert.True(t, mr.Exists("insights:abc"))
	assert.Equal(t, time.Minute, mr.TTL("insights:abc"))

	hit, err := c.GetInsights(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "bar chart of sales", hit.Text)
	assert.Equal(t, 3, hit.PromptTokens)

	mr.FastForward(2 * time.Minute)
	expired, err := c.GetInsights(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, expired)
}

func TestGetInsightsCorruptEntry(t *testing.T) {
	c, mr := newTestClient(t)
	require.NoError(t, mr.Set("insights:bad", "{not json"))

	_, err := c.GetInsights(context.Background(), "bad")
	assert.ErrorContains(t, err, "failed to unmarshal insights")
}

func TestInvalidateInsights(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.SetInsights(ctx, "one", &Insights{Text: "a"}))
	require.NoError(t, c.SetInsights(ctx, "two", &Insights{Text: "b"}))
	require.NoError(t, c.IncrementMetric(ctx, "dashboards"))

	n, err := c.InvalidateInsights(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, mr.Exists("insights:one"))
	assert.True(t, mr.Exists("metric:dashboards"))
}

func TestMetricCounters(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	v, err := c.GetMetric(ctx, "cache_hits")
	require.NoError(t, err)
	assert.Zero(t, v)

	require.NoError(t, c.IncrementMetric(ctx, "cache_hits"))
	require.NoError(t, c.IncrementMetric(ctx, "cache_hits"))

	v, err = c.GetMetric(ctx, "cache_hits")
	require.NoError(t, err)
	assert.EqualValues(t, 2, v)
}
