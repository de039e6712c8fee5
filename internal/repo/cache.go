// Package repo fetches and materializes repository snapshot content: a
// memoizing content cache with request coalescing, an HTTP fetcher against
// the session server's file endpoint, and a virtual file tree built from a
// flat path list for mounting into a sandbox.
package repo

import (
	"context"
	"sync"
)

// Fetcher retrieves one file's content for a (repoHash, commit, path)
// triple.
type Fetcher interface {
	FetchFile(ctx context.Context, repoHash, commit, path string) (string, error)
}

type cacheKey struct {
	repoHash string
	commit   string
	path     string
}

// inflight is one underlying fetch shared by every concurrent caller of the
// same key. Result fields are written exactly once, before done is closed.
type inflight struct {
	done    chan struct{}
	content string
	err     error
}

// Cache memoizes file content per (repoHash, commit, path). Concurrent
// fetches of the same key coalesce onto a single underlying request.
// Content is never evicted; the cache lives as long as the process unless
// explicitly Reset.
type Cache struct {
	fetcher Fetcher

	mu         sync.Mutex
	generation int
	content    map[cacheKey]string
	pending    map[cacheKey]*inflight
}

// NewCache creates an empty cache backed by the given fetcher.
func NewCache(fetcher Fetcher) *Cache {
	return &Cache{
		fetcher: fetcher,
		content: map[cacheKey]string{},
		pending: map[cacheKey]*inflight{},
	}
}

// Fetch returns cached content when present, joins an identical in-flight
// request when one exists, and otherwise issues the fetch itself. The
// in-flight marker is removed on success and on failure, so a failed path
// can be retried by a later call. A caller whose context ends while waiting
// gets the context error; the underlying fetch keeps running for the other
// callers.
func (c *Cache) Fetch(ctx context.Context, repoHash, commit, path string) (string, error) {
	key := cacheKey{repoHash, commit, path}

	c.mu.Lock()
	if content, ok := c.content[key]; ok {
		c.mu.Unlock()
		return content, nil
	}
	if call, ok := c.pending[key]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.content, call.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	call := &inflight{done: make(chan struct{})}
	c.pending[key] = call
	generation := c.generation
	c.mu.Unlock()

	content, err := c.fetcher.FetchFile(ctx, repoHash, commit, path)

	c.mu.Lock()
	// A Reset while this fetch was in flight means the cache no longer
	// tracks it: the stale completion is absorbed without touching the
	// fresh maps.
	if c.generation == generation {
		delete(c.pending, key)
		if err == nil {
			c.content[key] = content
		}
	}
	call.content, call.err = content, err
	c.mu.Unlock()
	close(call.done)

	return content, err
}

// Reset drops all cached content and stops tracking in-flight fetches.
// In-flight fetches are not cancelled; they complete for their waiters but
// their results never enter the cache.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.content = map[cacheKey]string{}
	c.pending = map[cacheKey]*inflight{}
}
