package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(t *testing.T, ttl time.Duration, opts ...Option) (*ResultCache[string], *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)}
	c, err := New[string](ttl, append([]Option{WithClock(clock.Now)}, opts...)...)
	require.NoError(t, err)
	return c, clock
}

func TestResultCacheRoundTrip(t *testing.T) {
	c, clock := newTestCache(t, 10*time.Minute)

	c.Set("k", "v")

	clock.Advance(9 * time.Minute)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	clock.Advance(10 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry is evicted on read")

	s := c.Stats()
	assert.EqualValues(t, 1, s.Hits)
	assert.EqualValues(t, 1, s.Misses)
	assert.EqualValues(t, 1, s.Expirations)
	assert.EqualValues(t, 0, s.Evictions)
}

func TestResultCacheExactTTLBoundary(t *testing.T) {
	c, clock := newTestCache(t, time.Minute)
	c.Set("k", "v")

	clock.Advance(time.Minute)
	_, ok := c.Get("k")
	assert.True(t, ok, "entry expires only when age exceeds ttl")
}

func TestResultCacheOverwriteRefreshes(t *testing.T) {
	c, clock := newTestCache(t, time.Minute)
	c.Set("k", "old")
	clock.Advance(50 * time.Second)
	c.Set("k", "new")
	clock.Advance(50 * time.Second)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", v)
	assert.Equal(t, 1, c.Len())
}

func TestResultCacheMaxEntries(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, WithMaxEntries(2))

	c.Set("a", "1")
	c.Set("b", "2")
	c.Get("a")
	c.Set("c", "3")

	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used entry is dropped")
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.EqualValues(t, 1, c.Stats().Evictions)
}

func TestResultCacheClear(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	c.Set("a", "1")
	c.Get("a")

	c.Clear()

	assert.Equal(t, Stats{}, c.Stats())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestResultCacheIsolatesStoredPayloads(t *testing.T) {
	c, err := New[map[string]interface{}](time.Hour)
	require.NoError(t, err)

	payload := map[string]interface{}{
		"price":    101.5,
		"quote":    map[string]interface{}{"bid": 101.4},
		"articles": []interface{}{map[string]interface{}{"title": "earnings beat"}},
		"symbols":  []string{"AAPL"},
		"none":     nil,
	}
	c.Set("k", payload)

	payload["price"] = 0.0
	payload["quote"].(map[string]interface{})["bid"] = 0.0
	payload["symbols"].([]string)[0] = "XXX"

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 101.5, got["price"])
	assert.Equal(t, 101.4, got["quote"].(map[string]interface{})["bid"])
	assert.Equal(t, []string{"AAPL"}, got["symbols"])
	assert.Nil(t, got["none"])

	got["articles"].([]interface{})[0].(map[string]interface{})["title"] = "rewritten"
	delete(got, "quote")

	again, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "earnings beat", again["articles"].([]interface{})[0].(map[string]interface{})["title"])
	assert.Contains(t, again, "quote")
}

func TestDeepCopyLeavesScalarsAlone(t *testing.T) {
	assert.Equal(t, 42, deepCopy(42))
	assert.Equal(t, "v", deepCopy("v"))

	var nilMap map[string]interface{}
	assert.Nil(t, deepCopy(nilMap))

	var boxed interface{} = []interface{}{1, "two"}
	copied := deepCopy(boxed)
	copied.([]interface{})[0] = 9
	assert.Equal(t, 1, boxed.([]interface{})[0])
}

func TestResultCacheRejectsBadTTL(t *testing.T) {
	_, err := New[int](0)
	assert.Error(t, err)
}

func TestResultCacheConcurrentAccess(t *testing.T) {
	c, clock := newTestCache(t, time.Second)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%10)
				c.Set(key, fmt.Sprintf("%d-%d", w, i))
				c.Get(key)
				if i%50 == 0 {
					clock.Advance(300 * time.Millisecond)
				}
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 10)
}

func TestSignature(t *testing.T) {
	t.Run("argument order does not matter", func(t *testing.T) {
		a := map[string]interface{}{"symbols": []interface{}{"AAPL"}, "timeframe": "1d", "nested": map[string]interface{}{"b": 1, "a": 2}}
		b := map[string]interface{}{"nested": map[string]interface{}{"a": 2, "b": 1}, "timeframe": "1d", "symbols": []interface{}{"AAPL"}}

		assert.Equal(t, Signature("get_market_data", a), Signature("get_market_data", b))
	})

	t.Run("name and values distinguish", func(t *testing.T) {
		args := map[string]interface{}{"symbols": []interface{}{"AAPL"}}
		other := map[string]interface{}{"symbols": []interface{}{"MSFT"}}

		assert.NotEqual(t, Signature("a", args), Signature("b", args))
		assert.NotEqual(t, Signature("a", args), Signature("a", other))
	})

	t.Run("format", func(t *testing.T) {
		assert.Equal(t, `news:[["limit",5],["symbols",["SPY"]]]`,
			Signature("news", map[string]interface{}{"symbols": []string{"SPY"}, "limit": 5}))
		assert.Equal(t, "news:[]", Signature("news", nil))
	})

	t.Run("unserializable args fall back", func(t *testing.T) {
		sig := Signature("x", map[string]interface{}{"ch": make(chan int)})
		assert.Contains(t, sig, "x:")
	})
}
