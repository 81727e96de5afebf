package esi

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_TTL(t *testing.T) {
	c := NewCache()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := t0
	c.now = func() time.Time { return clock }

	calls := 0
	fetch := func() ([]byte, error) {
		calls++
		return []byte(`{"n":` + strconv.Itoa(calls) + `}`), nil
	}

	v, err := c.Fetch("url", 5*time.Second, fetch)
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(v))

	clock = t0.Add(4 * time.Second)
	v, err = c.Fetch("url", 5*time.Second, fetch)
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(v), "value is served unchanged before expiry")
	assert.Equal(t, 1, calls)

	clock = t0.Add(6 * time.Second)
	v, err = c.Fetch("url", 5*time.Second, fetch)
	require.NoError(t, err)
	assert.Equal(t, `{"n":2}`, string(v), "value is refetched after expiry")
	assert.Equal(t, 2, calls)
}

func TestCache_NeverReturnsAtExpiry(t *testing.T) {
	c := NewCache()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := t0
	c.now = func() time.Time { return clock }

	c.Set("k", []byte("v"), time.Second)
	clock = t0.Add(time.Second)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 0, c.Len())
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	c := NewCache()
	_, err := c.Fetch("k", time.Minute, func() ([]byte, error) { return nil, errors.New("down") })
	require.Error(t, err)

	v, err := c.Fetch("k", time.Minute, func() ([]byte, error) { return []byte("up"), nil })
	require.NoError(t, err)
	assert.Equal(t, "up", string(v))
}

func TestCache_ConcurrentColdFetchesShareResult(t *testing.T) {
	c := NewCache()
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Fetch("k", time.Minute, func() ([]byte, error) {
				calls.Add(1)
				<-release
				return []byte("v"), nil
			})
			if err == nil {
				results[i] = string(v)
			}
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "v", r)
	}
	assert.LessOrEqual(t, calls.Load(), int32(10))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}
