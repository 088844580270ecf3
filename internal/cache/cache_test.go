package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func TestIsValidWithinAndAfterTTL(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := New[string](time.Minute).WithClock(clk.Now)

	assert.False(t, c.IsValid("k"), "missing key is never valid")

	c.Put("k", "v1")
	assert.True(t, c.IsValid("k"))

	clk.Advance(59 * time.Second)
	assert.True(t, c.IsValid("k"))

	clk.Advance(time.Second)
	assert.False(t, c.IsValid("k"), "entry exactly TTL old is stale")

	// Stale entries remain readable until overwritten.
	e, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v1", e.Payload)
	assert.Equal(t, 1, c.Len())
}

func TestPutOverwritesWholeEntry(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := New[string](time.Minute).WithClock(clk.Now)

	c.Put("k", "old")
	clk.Advance(2 * time.Minute)
	c.Put("k", "new")

	e, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", e.Payload)
	assert.Equal(t, clk.Now(), e.ComputedAt)
	assert.True(t, c.IsValid("k"))
	assert.Equal(t, 1, c.Len())
}

func TestLookup(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := New[int](time.Second).WithClock(clk.Now)

	_, ok := c.Lookup("k")
	assert.False(t, ok)

	c.Put("k", 7)
	v, ok := c.Lookup("k")
	assert.True(t, ok)
	assert.Equal(t, 7, v)

	clk.Advance(time.Second)
	_, ok = c.Lookup("k")
	assert.False(t, ok)
}

func TestNonPositiveTTLFallsBackToDefault(t *testing.T) {
	assert.Equal(t, DefaultTTL, New[int](0).TTL())
	assert.Equal(t, 3*time.Second, New[int](3*time.Second).TTL())
}
