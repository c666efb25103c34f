package octoprint

import (
	"context"
	"sync"
	"time"
)

// StatusSource reports the printer's current temperatures and job.
type StatusSource interface {
	CurrentTemperatures(ctx context.Context) (Temperatures, error)
	CurrentJob(ctx context.Context) (Job, error)
}

// StatusCache wraps a StatusSource with throttling and caching. Progress
// ticks can arrive back to back; the source is queried at most once per
// minReadInterval and the last good value is served in between. When a
// query fails and a cached value exists, the cached value is returned along
// with the error.
type StatusCache struct {
	src             StatusSource
	minReadInterval time.Duration
	now             func() time.Time

	mu    sync.Mutex
	temps cached[Temperatures]
	job   cached[Job]
}

type cached[T any] struct {
	value    T
	readAt   time.Time
	hasValid bool
}

// NewStatusCache returns a cache over src.
func NewStatusCache(src StatusSource, minReadInterval time.Duration) *StatusCache {
	return &StatusCache{
		src:             src,
		minReadInterval: minReadInterval,
		now:             time.Now,
	}
}

// CurrentTemperatures returns the cached readings or queries the source.
func (c *StatusCache) CurrentTemperatures(ctx context.Context) (Temperatures, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return read(c, &c.temps, ctx, c.src.CurrentTemperatures)
}

// CurrentJob returns the cached job or queries the source.
func (c *StatusCache) CurrentJob(ctx context.Context) (Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return read(c, &c.job, ctx, c.src.CurrentJob)
}

func read[T any](c *StatusCache, slot *cached[T], ctx context.Context, fetch func(context.Context) (T, error)) (T, error) {
	now := c.now()
	if slot.hasValid && now.Sub(slot.readAt) < c.minReadInterval {
		return slot.value, nil
	}
	v, err := fetch(ctx)
	if err != nil {
		if slot.hasValid {
			return slot.value, err
		}
		var zero T
		return zero, err
	}
	slot.value = v
	slot.readAt = now
	slot.hasValid = true
	return v, nil
}
