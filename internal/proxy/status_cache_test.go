package proxy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStatusCacheExpiry(t *testing.T) {
	c := NewStatusCache()
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	key := StatusCacheKey{Upstream: "127.0.0.1:25566", ProtocolVersion: 767}
	c.Set(key, []byte{1, 0}, time.Second)

	got, ok := c.Get(key)
	if !ok || len(got) != 2 {
		t.Fatalf("Get=%v,%v", got, ok)
	}
	got[0] = 9
	again, _ := c.Get(key)
	if again[0] != 1 {
		t.Fatalf("Get must return a copy")
	}

	if _, ok := c.Get(StatusCacheKey{Upstream: key.Upstream, ProtocolVersion: 47}); ok {
		t.Fatalf("protocol version is part of the key")
	}

	now = now.Add(2 * time.Second)
	if _, ok := c.Get(key); ok {
		t.Fatalf("expected entry to expire")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be removed on access")
	}
}

func TestStatusCacheGetOrLoadDeduplicates(t *testing.T) {
	c := NewStatusCache()
	key := StatusCacheKey{Upstream: "up:25565", ProtocolVersion: 767}

	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("frame"), nil
	}

	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
		served  atomic.Int32
	)
	for range 8 {
		wg.Add(1)
		started.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			b, cached, err := c.GetOrLoad(context.Background(), key, time.Minute, load)
			if err != nil || string(b) != "frame" {
				t.Errorf("GetOrLoad=%q,%v", b, err)
			}
			if cached {
				served.Add(1)
			}
		}()
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("load calls=%d want 1", got)
	}
	// Every caller waited on the same upstream fetch; none was served from
	// the store.
	if got := served.Load(); got != 0 {
		t.Fatalf("%d callers reported a cached frame during the first load", got)
	}

	b, cached, err := c.GetOrLoad(context.Background(), key, time.Minute, load)
	if err != nil || !cached || string(b) != "frame" {
		t.Fatalf("second GetOrLoad=%q cached=%v err=%v", b, cached, err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("load calls=%d after cached read", got)
	}
}

func TestStatusCacheGetOrLoadWithoutTTL(t *testing.T) {
	c := NewStatusCache()
	key := StatusCacheKey{Upstream: "up:25565"}
	for range 2 {
		b, cached, err := c.GetOrLoad(context.Background(), key, 0, func(context.Context) ([]byte, error) {
			return []byte("live"), nil
		})
		if err != nil || cached || string(b) != "live" {
			t.Fatalf("GetOrLoad=%q cached=%v err=%v", b, cached, err)
		}
	}
	if c.Len() != 0 {
		t.Fatalf("zero ttl must bypass the store")
	}
}

func TestStatusCacheFailedLoadNotCached(t *testing.T) {
	c := NewStatusCache()
	key := StatusCacheKey{Upstream: "up:25565"}

	boom := errors.New("boom")
	if _, _, err := c.GetOrLoad(context.Background(), key, time.Minute, func(context.Context) ([]byte, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
	if c.Len() != 0 {
		t.Fatalf("failed load must not be cached")
	}

	c.Set(key, []byte("x"), time.Minute)
	c.Purge()
	if _, ok := c.Get(key); ok {
		t.Fatalf("Purge should drop entries")
	}
}
