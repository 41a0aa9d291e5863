package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guileen/dbtune/fingerprint"
)

func fp(s string) fingerprint.Fingerprint {
	return fingerprint.New(fingerprint.Query{Resource: s, Operation: "list"})
}

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func TestStoreThenLookup(t *testing.T) {
	c := New(10, time.Minute)

	c.Store(fp("posts"), "posts", "result")
	v, ok := c.Lookup(fp("posts"))

	require.True(t, ok)
	assert.Equal(t, "result", v)
}

func TestLookupMiss(t *testing.T) {
	c := New(10, time.Minute)

	_, ok := c.Lookup(fp("missing"))

	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestTTLExpiry(t *testing.T) {
	c := New(10, time.Second)
	clock := newFakeClock()
	c.SetClock(clock.now)

	c.Store(fp("posts"), "posts", "result")
	clock.advance(time.Second)

	_, ok := c.Lookup(fp("posts"))
	assert.False(t, ok, "expired entry must behave as a miss")
	assert.Equal(t, 0, c.Len(), "expired entry must be removed lazily")
}

func TestLRUEviction(t *testing.T) {
	c := New(2, time.Minute)

	c.Store(fp("a"), "a", 1)
	c.Store(fp("b"), "b", 2)

	// Touch a so that b becomes the LRU candidate.
	_, ok := c.Lookup(fp("a"))
	require.True(t, ok)

	c.Store(fp("c"), "c", 3)

	_, ok = c.Lookup(fp("b"))
	assert.False(t, ok, "least-recently-used entry should be evicted")
	_, ok = c.Lookup(fp("a"))
	assert.True(t, ok)
	_, ok = c.Lookup(fp("c"))
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestExpiredEntryReclaimedBeforeLiveLRU(t *testing.T) {
	c := New(2, time.Second)
	clock := newFakeClock()
	c.SetClock(clock.now)

	c.Store(fp("old"), "old", 1)
	clock.advance(2 * time.Second)

	// old is now expired; live fills the second slot.
	c.Store(fp("live"), "live", 2)

	// At capacity: the expired entry must be reclaimed, not the live one,
	// even though live was used more recently than nothing at all.
	c.Store(fp("new"), "new", 3)

	_, ok := c.Lookup(fp("live"))
	assert.True(t, ok, "live entry must survive when an expired entry exists")
	_, ok = c.Lookup(fp("new"))
	assert.True(t, ok)
}

func TestStoreOverwriteRefreshesTTL(t *testing.T) {
	c := New(10, time.Second)
	clock := newFakeClock()
	c.SetClock(clock.now)

	c.Store(fp("posts"), "posts", "v1")
	clock.advance(900 * time.Millisecond)
	c.Store(fp("posts"), "posts", "v2")
	clock.advance(900 * time.Millisecond)

	v, ok := c.Lookup(fp("posts"))
	require.True(t, ok, "overwrite must restart the TTL")
	assert.Equal(t, "v2", v)
}

func TestInvalidateResource(t *testing.T) {
	c := New(10, time.Minute)

	for i := 0; i < 3; i++ {
		key := fingerprint.New(fingerprint.Query{Resource: "posts", Operation: fmt.Sprintf("op%d", i)})
		c.Store(key, "posts", i)
	}
	c.Store(fp("users"), "users", "keep")

	c.InvalidateResource("posts")

	assert.Equal(t, 1, c.Len())
	_, ok := c.Lookup(fp("users"))
	assert.True(t, ok)
}

func TestHitRate(t *testing.T) {
	c := New(10, time.Minute)

	assert.Zero(t, c.Stats().HitRate, "no lookups means rate 0")

	c.Store(fp("a"), "a", 1)
	c.Lookup(fp("a"))
	c.Lookup(fp("a"))
	c.Lookup(fp("b"))
	c.Lookup(fp("c"))

	assert.InDelta(t, 0.5, c.Stats().HitRate, 1e-9)
}

func TestReset(t *testing.T) {
	c := New(10, time.Minute)

	c.Store(fp("a"), "a", 1)
	c.Lookup(fp("a"))
	c.Lookup(fp("b"))

	c.Reset()

	s := c.Stats()
	assert.Zero(t, s.Hits)
	assert.Zero(t, s.Misses)
	assert.Zero(t, s.Size)
}

func TestCapacityNeverExceeded(t *testing.T) {
	c := New(3, time.Minute)

	for i := 0; i < 20; i++ {
		c.Store(fp(fmt.Sprintf("r%d", i)), "r", i)
		assert.LessOrEqual(t, c.Len(), 3)
	}
}
