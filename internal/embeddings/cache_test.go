package embeddings

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKey(t *testing.T) {
	// Same text under a different model must never collide.
	assert.NotEqual(t, cacheKey("hello", "model-a"), cacheKey("hello", "model-b"))
	assert.NotEqual(t, cacheKey("hello", "model"), cacheKey("hell", "omodel"))
	assert.Equal(t, cacheKey("hello", "model-a"), cacheKey("hello", "model-a"))
}

func TestCacheHitAndMiss(t *testing.T) {
	c := newCache(time.Minute, 10)

	_, ok := c.get("k1")
	assert.False(t, ok)

	c.put("k1", []float32{1, 2})
	vec, ok := c.get("k1")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, vec)
	assert.Equal(t, 1, c.len())
}

func TestCacheTTLExpiry(t *testing.T) {
	c := newCache(time.Minute, 10)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	c.put("k1", []float32{1})

	c.now = func() time.Time { return base.Add(59 * time.Second) }
	_, ok := c.get("k1")
	assert.True(t, ok)

	c.now = func() time.Time { return base.Add(time.Minute) }
	_, ok = c.get("k1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.len(), "expired entry is removed on access")
}

func TestCacheTrimDropsExpiredFirst(t *testing.T) {
	c := newCache(time.Minute, 3)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	c.put("old-1", []float32{1})
	c.put("old-2", []float32{2})

	// These are fresh when the trim happens.
	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	c.put("fresh-1", []float32{3})
	c.put("fresh-2", []float32{4})

	// Fourth insert crosses the threshold and triggers a trim. The two
	// expired entries go; everything fresh fits.
	assert.Equal(t, 2, c.len())
	_, ok := c.get("old-1")
	assert.False(t, ok)
	_, ok = c.get("fresh-1")
	assert.True(t, ok)
	_, ok = c.get("fresh-2")
	assert.True(t, ok)
}

func TestCacheTrimDropsOldestInsertions(t *testing.T) {
	c := newCache(time.Hour, 3)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		offset := time.Duration(i) * time.Second
		c.now = func() time.Time { return base.Add(offset) }
		c.put(fmt.Sprintf("k%d", i), []float32{float32(i)})
	}

	// Nothing is expired, so the oldest insertion is sacrificed.
	assert.Equal(t, 3, c.len())
	_, ok := c.get("k0")
	assert.False(t, ok)
	for i := 1; i < 4; i++ {
		_, ok := c.get(fmt.Sprintf("k%d", i))
		assert.True(t, ok, "k%d should survive", i)
	}
}
