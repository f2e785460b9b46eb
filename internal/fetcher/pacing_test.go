package fetcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacerDelayBounds(t *testing.T) {
	p := newPacer(Policy{MinDelay: 2 * time.Second, MaxDelay: 5 * time.Second, BackoffMultiplier: 2, MaxBackoff: 12 * time.Second, ResetAfter: 2})

	assert.Equal(t, 2*time.Second, p.Delay(0))
	assert.Equal(t, 3500*time.Millisecond, p.Delay(0.5))
	assert.Equal(t, 5*time.Second, p.Delay(1))
}

func TestPacerBackoffAndReset(t *testing.T) {
	p := newPacer(Policy{MinDelay: time.Second, MaxDelay: 2 * time.Second, BackoffMultiplier: 2, MaxBackoff: 10 * time.Second, ResetAfter: 2})

	p.RateLimited()
	assert.Equal(t, 2.0, p.Factor())
	assert.Equal(t, 2*time.Second, p.Delay(0))

	p.RateLimited()
	p.RateLimited()
	assert.Equal(t, 5.0, p.Factor(), "factor is capped so MaxDelay x factor stays within MaxBackoff")
	assert.Equal(t, 10*time.Second, p.Delay(1))

	// ResetAfter consecutive successes step the factor down once
	p.Success()
	assert.Equal(t, 5.0, p.Factor())
	p.Success()
	assert.Equal(t, 2.5, p.Factor())

	// A rate limit in between restarts the count
	p.Success()
	p.RateLimited()
	p.Success()
	assert.Equal(t, 5.0, p.Factor())

	for i := 0; i < 20; i++ {
		p.Success()
	}
	assert.Equal(t, 1.0, p.Factor(), "factor never drops below baseline")
}

func TestProxyPoolExclusiveLeases(t *testing.T) {
	pool := NewProxyPool([]string{"http://p1:8080", "http://p2:8080"}, 3, time.Minute)

	a, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	b, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, a.Index, b.Index)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "no proxy is free")

	released := make(chan *Proxy, 1)
	go func() {
		px, err := pool.Acquire(context.Background())
		if err == nil {
			released <- px
		}
	}()
	time.Sleep(10 * time.Millisecond)
	pool.Release(a)

	select {
	case px := <-released:
		assert.Equal(t, a.Index, px.Index)
	case <-time.After(time.Second):
		t.Fatal("waiting Acquire was not woken by Release")
	}
}

func TestProxyPoolCooldown(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	pool := NewProxyPool([]string{"http://p1:8080", "http://p2:8080"}, 2, time.Minute)
	pool.now = func() time.Time { return now }

	p1 := pool.proxies[0]
	pool.ReportFailure(p1)
	assert.False(t, pool.CoolingDown(p1), "below threshold")
	pool.ReportSuccess(p1)
	pool.ReportFailure(p1)
	assert.False(t, pool.CoolingDown(p1), "success resets the consecutive count")
	pool.ReportFailure(p1)
	assert.True(t, pool.CoolingDown(p1))

	for i := 0; i < 3; i++ {
		px, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, px.Index, "cooling proxy is skipped")
		pool.Release(px)
	}

	now = now.Add(time.Minute)
	assert.False(t, pool.CoolingDown(p1), "proxy returns after the cooldown")
}

func TestDirectSlotWithoutProxies(t *testing.T) {
	pool := NewProxyPool(nil, 3, time.Minute)
	assert.Equal(t, 1, pool.Size())
	assert.Equal(t, []string{""}, pool.URLs())
	assert.Equal(t, "direct", pool.proxies[0].Label())
}
