package fetcher

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Proxy is one fetch slot. An empty URL means a direct connection.
type Proxy struct {
	Index int
	URL   string

	busy          bool
	failures      int
	cooldownUntil time.Time
}

// Label returns a log-friendly name for the slot
func (p *Proxy) Label() string {
	if p.URL == "" {
		return "direct"
	}
	return p.URL
}

// ProxyPool hands out exclusive leases on proxies in round-robin order.
// A proxy that fails threshold times in a row sits out for the cooldown.
type ProxyPool struct {
	mu        sync.Mutex
	proxies   []*Proxy
	next      int
	threshold int
	cooldown  time.Duration
	changed   chan struct{}
	now       func() time.Time
}

// NewProxyPool creates a pool over urls, or a single direct slot when urls is empty
func NewProxyPool(urls []string, threshold int, cooldown time.Duration) *ProxyPool {
	if len(urls) == 0 {
		urls = []string{""}
	}
	if threshold < 1 {
		threshold = 1
	}

	pool := &ProxyPool{
		threshold: threshold,
		cooldown:  cooldown,
		changed:   make(chan struct{}),
		now:       time.Now,
	}
	for i, u := range urls {
		pool.proxies = append(pool.proxies, &Proxy{Index: i, URL: u})
	}
	return pool
}

// Size returns the number of slots
func (p *ProxyPool) Size() int {
	return len(p.proxies)
}

// URLs returns the proxy URLs in slot order
func (p *ProxyPool) URLs() []string {
	urls := make([]string, len(p.proxies))
	for i, px := range p.proxies {
		urls[i] = px.URL
	}
	return urls
}

// Acquire blocks until a proxy is free and not cooling down
func (p *ProxyPool) Acquire(ctx context.Context) (*Proxy, error) {
	for {
		p.mu.Lock()
		now := p.now()
		var earliest time.Time
		for i := 0; i < len(p.proxies); i++ {
			idx := (p.next + i) % len(p.proxies)
			px := p.proxies[idx]
			if px.busy {
				continue
			}
			if now.Before(px.cooldownUntil) {
				if earliest.IsZero() || px.cooldownUntil.Before(earliest) {
					earliest = px.cooldownUntil
				}
				continue
			}
			px.busy = true
			p.next = idx + 1
			p.mu.Unlock()
			return px, nil
		}
		changed := p.changed
		p.mu.Unlock()

		var t *time.Timer
		var timer <-chan time.Time
		if !earliest.IsZero() {
			t = time.NewTimer(earliest.Sub(now))
			timer = t.C
		}

		select {
		case <-ctx.Done():
			if t != nil {
				t.Stop()
			}
			return nil, ctx.Err()
		case <-changed:
		case <-timer:
		}
		if t != nil {
			t.Stop()
		}
	}
}

// Release returns a leased proxy to the pool
func (p *ProxyPool) Release(px *Proxy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	px.busy = false
	p.broadcast()
}

// ReportSuccess resets the consecutive failure count
func (p *ProxyPool) ReportSuccess(px *Proxy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	px.failures = 0
}

// ReportFailure counts a failure and starts the cooldown at the threshold
func (p *ProxyPool) ReportFailure(px *Proxy) {
	p.mu.Lock()
	defer p.mu.Unlock()

	px.failures++
	if px.failures >= p.threshold {
		px.failures = 0
		px.cooldownUntil = p.now().Add(p.cooldown)
		logrus.Warnf("Proxy %s cooling down for %v after %d consecutive failures", px.Label(), p.cooldown, p.threshold)
	}
}

// CoolingDown reports whether px is currently excluded from rotation
func (p *ProxyPool) CoolingDown(px *Proxy) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now().Before(px.cooldownUntil)
}

// broadcast wakes every Acquire waiting on the current channel
func (p *ProxyPool) broadcast() {
	close(p.changed)
	p.changed = make(chan struct{})
}
