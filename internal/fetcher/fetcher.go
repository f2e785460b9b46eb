package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/hvt-hunter/internal/storage"
)

// Fetcher retrieves profiles and follower pages
type Fetcher interface {
	FetchProfile(ctx context.Context, username string) (*storage.ProfileSnapshot, error)
	FetchFollowers(ctx context.Context, username, cursor string) (FollowerPage, error)
}

// HashtagSource lists usernames posting under a hashtag
type HashtagSource interface {
	FetchHashtagUsers(ctx context.Context, tag string, limit int) ([]string, error)
}

// Options configures a RateLimitedFetcher
type Options struct {
	Policy         Policy
	RetryAttempts  int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
	PageSize       int
}

// RateLimitedFetcher paces, rotates and retries requests over a Transport.
// Pacing state is kept per proxy slot.
type RateLimitedFetcher struct {
	transport Transport
	pool      *ProxyPool
	pacers    []*pacer
	opts      Options

	// Replaceable in tests
	sleep func(ctx context.Context, d time.Duration) error
	draw  func() float64
}

// NewRateLimitedFetcher creates a fetcher over transport using pool's slots
func NewRateLimitedFetcher(transport Transport, pool *ProxyPool, opts Options) *RateLimitedFetcher {
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}
	f := &RateLimitedFetcher{
		transport: transport,
		pool:      pool,
		opts:      opts,
		sleep:     sleepContext,
		draw:      rand.Float64,
	}
	for i := 0; i < pool.Size(); i++ {
		f.pacers = append(f.pacers, newPacer(opts.Policy))
	}
	return f
}

// FetchProfile retrieves one profile snapshot
func (f *RateLimitedFetcher) FetchProfile(ctx context.Context, username string) (*storage.ProfileSnapshot, error) {
	var snap *storage.ProfileSnapshot
	err := f.do(ctx, "fetch profile "+username, func(cctx context.Context, slot int) error {
		s, err := f.transport.Profile(cctx, slot, username)
		if err != nil {
			return err
		}
		snap = s
		return nil
	})
	return snap, err
}

// FetchFollowers retrieves one page of followers starting at cursor
func (f *RateLimitedFetcher) FetchFollowers(ctx context.Context, username, cursor string) (FollowerPage, error) {
	var page FollowerPage
	err := f.do(ctx, "fetch followers of "+username, func(cctx context.Context, slot int) error {
		p, err := f.transport.Followers(cctx, slot, username, cursor, f.opts.PageSize)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	return page, err
}

// FetchHashtagUsers retrieves up to limit usernames posting under tag
func (f *RateLimitedFetcher) FetchHashtagUsers(ctx context.Context, tag string, limit int) ([]string, error) {
	var users []string
	err := f.do(ctx, "fetch hashtag #"+tag, func(cctx context.Context, slot int) error {
		u, err := f.transport.HashtagUsers(cctx, slot, tag, limit)
		if err != nil {
			return err
		}
		users = u
		return nil
	})
	if len(users) > limit {
		users = users[:limit]
	}
	return users, err
}

func (f *RateLimitedFetcher) do(ctx context.Context, op string, call func(context.Context, int) error) error {
	var lastErr error
	for attempt := 1; attempt <= f.opts.RetryAttempts; attempt++ {
		err := f.attempt(ctx, call)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if IsPermanent(err) || IsFatal(err) {
			return err
		}
		if !IsTransient(err) {
			err = fmt.Errorf("%w: %v", ErrTransport, err)
		}
		lastErr = err

		if attempt < f.opts.RetryAttempts {
			backoff := f.opts.RetryDelay * time.Duration(1<<(attempt-1))
			logrus.Debugf("%s: attempt %d/%d failed (%v), retrying in %v", op, attempt, f.opts.RetryAttempts, err, backoff)
			if err := f.sleep(ctx, backoff); err != nil {
				return err
			}
		}
	}
	return &ExhaustedError{Op: op, Attempts: f.opts.RetryAttempts, Err: lastErr}
}

// attempt runs one paced call on a leased proxy
func (f *RateLimitedFetcher) attempt(ctx context.Context, call func(context.Context, int) error) error {
	px, err := f.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer f.pool.Release(px)

	p := f.pacers[px.Index]
	if err := f.sleep(ctx, p.Delay(f.draw())); err != nil {
		return err
	}

	err = f.withTimeout(ctx, func(cctx context.Context) error { return call(cctx, px.Index) })
	switch {
	case err == nil:
		p.Success()
		f.pool.ReportSuccess(px)
	case ctx.Err() != nil:
	case errors.Is(err, ErrRateLimited):
		p.RateLimited()
		f.pool.ReportFailure(px)
	case IsPermanent(err):
		// The proxy delivered a definitive answer
		p.Success()
		f.pool.ReportSuccess(px)
	default:
		f.pool.ReportFailure(px)
	}
	return err
}

// withTimeout abandons call when it outlives the request timeout
func (f *RateLimitedFetcher) withTimeout(ctx context.Context, call func(context.Context) error) error {
	if f.opts.RequestTimeout <= 0 {
		return call(ctx)
	}

	cctx, cancel := context.WithTimeout(ctx, f.opts.RequestTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- call(cctx) }()

	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w after %v", ErrTimeout, f.opts.RequestTimeout)
		}
		return err
	case <-cctx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w after %v", ErrTimeout, f.opts.RequestTimeout)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
