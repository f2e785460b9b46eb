package fetcher

import (
	"sync"
	"time"
)

// Policy describes how requests on one proxy slot are paced
type Policy struct {
	MinDelay          time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
	ResetAfter        int // consecutive successes before the factor steps back down
}

// pacer holds the adaptive backoff state of one slot
type pacer struct {
	mu        sync.Mutex
	policy    Policy
	factor    float64
	successes int
}

func newPacer(p Policy) *pacer {
	if p.BackoffMultiplier < 1 {
		p.BackoffMultiplier = 1
	}
	if p.ResetAfter < 1 {
		p.ResetAfter = 1
	}
	return &pacer{policy: p, factor: 1}
}

// Delay returns the wait before the next request. r is a uniform draw in [0, 1).
func (p *pacer) Delay(r float64) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	spread := float64(p.policy.MaxDelay - p.policy.MinDelay)
	base := float64(p.policy.MinDelay) + r*spread
	d := time.Duration(base * p.factor)
	if p.policy.MaxBackoff > 0 && d > p.policy.MaxBackoff {
		d = p.policy.MaxBackoff
	}
	return d
}

// RateLimited grows the backoff factor
func (p *pacer) RateLimited() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.successes = 0
	p.factor *= p.policy.BackoffMultiplier
	if p.policy.MaxDelay > 0 && p.policy.MaxBackoff > 0 {
		ceiling := float64(p.policy.MaxBackoff) / float64(p.policy.MaxDelay)
		if ceiling >= 1 && p.factor > ceiling {
			p.factor = ceiling
		}
	}
}

// Success steps the factor back toward 1 after ResetAfter consecutive successes
func (p *pacer) Success() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.factor == 1 {
		return
	}
	p.successes++
	if p.successes >= p.policy.ResetAfter {
		p.successes = 0
		p.factor /= p.policy.BackoffMultiplier
		if p.factor < 1 {
			p.factor = 1
		}
	}
}

// Factor returns the current backoff factor
func (p *pacer) Factor() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.factor
}
