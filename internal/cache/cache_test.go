package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_GetSetExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.nowFunc = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))
	v, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	now = now.Add(2 * time.Minute)
	_, ok, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "forever", "x", 0))
	now = now.Add(24 * time.Hour)
	_, ok, _ = m.Get(ctx, "forever")
	assert.True(t, ok)

	require.NoError(t, m.Delete(ctx, "forever"))
	_, ok, _ = m.Get(ctx, "forever")
	assert.False(t, ok)
}

func TestMemory_Lease(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.nowFunc = func() time.Time { return now }

	tok, ok, err := m.AcquireLease(ctx, "classify:abc", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, tok)

	_, ok, err = m.AcquireLease(ctx, "classify:abc", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	// A stale token cannot release someone else's lease.
	require.NoError(t, m.ReleaseLease(ctx, "classify:abc", "not-the-token"))
	_, ok, _ = m.AcquireLease(ctx, "classify:abc", 30*time.Second)
	assert.False(t, ok)

	require.NoError(t, m.ReleaseLease(ctx, "classify:abc", tok))
	tok2, ok, _ := m.AcquireLease(ctx, "classify:abc", 30*time.Second)
	assert.True(t, ok)

	// Expiry frees the lease even without release.
	now = now.Add(31 * time.Second)
	_, ok, _ = m.AcquireLease(ctx, "classify:abc", 30*time.Second)
	assert.True(t, ok)
	assert.NotEmpty(t, tok2)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	type payload struct {
		Key   string  `json:"key"`
		Price float64 `json:"price"`
	}
	require.NoError(t, SetJSON(ctx, m, "p", payload{Key: "a", Price: 9.5}, time.Minute))

	var got payload
	ok, err := GetJSON(ctx, m, "p", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, payload{Key: "a", Price: 9.5}, got)

	ok, err = GetJSON(ctx, m, "missing", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "bad", "{", time.Minute))
	_, err = GetJSON(ctx, m, "bad", &got)
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	ctx := context.Background()
	var c Cache = Nop{}
	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, _ = c.AcquireLease(ctx, "k", time.Second)
	assert.True(t, ok)
}

// TestRedis runs against a real server when SKUBOARD_TEST_REDIS_URL is set.
func TestRedis(t *testing.T) {
	url := os.Getenv("SKUBOARD_TEST_REDIS_URL")
	if url == "" {
		t.Skip("SKUBOARD_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	r, err := NewRedis(ctx, url, "skuboard-test:"+t.Name()+":")
	require.NoError(t, err)
	defer r.Close() //nolint:errcheck

	require.NoError(t, r.Set(ctx, "k", "v", time.Minute))
	v, ok, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	tok, ok, err := r.AcquireLease(ctx, "k", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = r.AcquireLease(ctx, "k", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, r.ReleaseLease(ctx, "k", tok))
	_, ok, _ = r.AcquireLease(ctx, "k", 5*time.Second)
	assert.True(t, ok)

	require.NoError(t, r.Delete(ctx, "k", LeaseKey("k")))
	_, ok, _ = r.Get(ctx, "k")
	assert.False(t, ok)
}

func TestNewRedis_BadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "::not a url", "")
	assert.Error(t, err)
}
