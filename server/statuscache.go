package server

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/scalytics/core-orchestrator/event"
)

// poolStatusCacheTTL is the "60 s readiness cache" spec §6 requires on the
// pool-status endpoint — an explicit memoizer with an expiry field (spec
// §9's redesign note), not a file-scoped mutable object.
const poolStatusCacheTTL = 60 * time.Second

// poolStatusCache memoizes the pool-status response body for up to
// poolStatusCacheTTL, invalidated immediately on any activation state
// change rather than waiting out the TTL.
type poolStatusCache struct {
	mu     sync.Mutex
	body   gin.H
	expiry time.Time
}

func newPoolStatusCache(bus *event.Bus) *poolStatusCache {
	c := &poolStatusCache{}
	for _, channel := range []string{event.ChannelActiveModelChanged, event.ChannelWorkerStatusChanged} {
		go c.invalidateOn(bus.Subscribe(channel))
	}
	for _, channel := range []string{event.ChannelActivationStart, event.ChannelActivationComplete, event.ChannelActivationError} {
		go c.invalidateOn(bus.Subscribe(channel + ":*"))
	}
	return c
}

// invalidateOn clears the cache on every event delivered to sub, so a stale
// "ready"/"activating" status is never served past the moment it stops
// being true — a background task for the life of the process, the same
// shape as the lifecycle manager's readiness poller.
func (c *poolStatusCache) invalidateOn(sub *event.Subscription) {
	for {
		_, ok := sub.Next(context.Background())
		if !ok {
			return
		}
		c.invalidate()
	}
}

func (c *poolStatusCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.body = nil
	c.expiry = time.Time{}
}

// getOrCompute returns the cached body if still fresh, otherwise computes,
// caches, and returns a fresh one via compute.
func (c *poolStatusCache) getOrCompute(compute func() gin.H) gin.H {
	c.mu.Lock()
	if c.body != nil && time.Now().Before(c.expiry) {
		body := c.body
		c.mu.Unlock()
		return body
	}
	c.mu.Unlock()

	body := compute()

	c.mu.Lock()
	c.body = body
	c.expiry = time.Now().Add(poolStatusCacheTTL)
	c.mu.Unlock()

	return body
}
