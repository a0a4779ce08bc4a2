package dispatch

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limits bounds the concurrency of resource-bound work. Zero means unlimited
// for that resource.
type Limits struct {
	// Downloads bounds concurrent network-bound work: repodata queries,
	// conda solves and git clones/fetches.
	Downloads int64

	// Builds bounds concurrent tool-environment instantiations and
	// environment installs.
	Builds int64
}

// limiter holds the permit pools derived from Limits. A nil semaphore means
// the resource is unlimited.
type limiter struct {
	downloads *semaphore.Weighted
	builds    *semaphore.Weighted
}

func newLimiter(l Limits) *limiter {
	lim := &limiter{}
	if l.Downloads > 0 {
		lim.downloads = semaphore.NewWeighted(l.Downloads)
	}
	if l.Builds > 0 {
		lim.builds = semaphore.NewWeighted(l.Builds)
	}
	return lim
}

func acquire(ctx context.Context, sem *semaphore.Weighted) (func(), error) {
	if sem == nil {
		return func() {}, nil
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

// acquireDownload blocks until a download permit is available.
func (l *limiter) acquireDownload(ctx context.Context) (func(), error) {
	return acquire(ctx, l.downloads)
}

// acquireBuild blocks until a build permit is available.
func (l *limiter) acquireBuild(ctx context.Context) (func(), error) {
	return acquire(ctx, l.builds)
}
