package proxy

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// StatusCacheKey identifies one cached status response. Clients on different
// protocol versions may see different responses from the same upstream.
type StatusCacheKey struct {
	Upstream        string
	ProtocolVersion int32
}

func (k StatusCacheKey) String() string {
	return k.Upstream + "\x00" + strconv.Itoa(int(k.ProtocolVersion))
}

type statusEntry struct {
	expiresAt time.Time
	frame     []byte
}

// StatusCache holds raw status response frames (length prefix included)
// with a per-route TTL. Expiry is lazy and failed loads are never stored.
// Concurrent misses for the same key share one upstream fetch.
type StatusCache struct {
	now func() time.Time

	mu      sync.Mutex
	entries map[StatusCacheKey]statusEntry
	group   singleflight.Group
}

func NewStatusCache() *StatusCache {
	return &StatusCache{now: time.Now, entries: make(map[StatusCacheKey]statusEntry)}
}

var (
	defaultStatusCacheOnce sync.Once
	defaultStatusCache     *StatusCache
)

// DefaultStatusCache is shared by handlers that are not given their own cache.
func DefaultStatusCache() *StatusCache {
	defaultStatusCacheOnce.Do(func() {
		defaultStatusCache = NewStatusCache()
	})
	return defaultStatusCache
}

// Get returns a copy of the cached frame for key.
func (c *StatusCache) Get(key StatusCacheKey) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return slices.Clone(e.frame), true
}

// Set stores frame for ttl. Empty frames and non-positive TTLs are ignored.
func (c *StatusCache) Set(key StatusCacheKey, frame []byte, ttl time.Duration) {
	if c == nil || ttl <= 0 || len(frame) == 0 {
		return
	}
	e := statusEntry{expiresAt: c.now().Add(ttl), frame: slices.Clone(frame)}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included.
func (c *StatusCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge drops every entry. Used when routes are reloaded.
func (c *StatusCache) Purge() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}

type loadResult struct {
	frame  []byte
	cached bool
}

// GetOrLoad returns the cached frame for key or calls load once for all
// concurrent callers and caches its result for ttl. cached is true only when
// the frame was served from the store; callers that waited on an in-flight
// load get false.
func (c *StatusCache) GetOrLoad(ctx context.Context, key StatusCacheKey, ttl time.Duration, load func(context.Context) ([]byte, error)) (frame []byte, cached bool, err error) {
	if ttl <= 0 {
		frame, err = load(ctx)
		return frame, false, err
	}
	if c == nil {
		c = DefaultStatusCache()
	}
	if frame, ok := c.Get(key); ok {
		return frame, true, nil
	}

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		if frame, ok := c.Get(key); ok {
			return loadResult{frame: frame, cached: true}, nil
		}
		frame, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, frame, ttl)
		return loadResult{frame: frame}, nil
	})
	if err != nil {
		return nil, false, err
	}
	r := v.(loadResult)
	return slices.Clone(r.frame), r.cached, nil
}
