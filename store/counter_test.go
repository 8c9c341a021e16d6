package store

import (
	"context"
	"sync"
	"testing"

	"github.com/adonese/bloog/cache"
)

// missOnce hides the first lookup of a key, as if it was written by another
// process right after this one read.
type missOnce struct {
	cache.Cache
	missed bool
}

func (m *missOnce) Get(ctx context.Context, key string) ([]byte, bool) {
	if !m.missed {
		m.missed = true
		return nil, false
	}
	return m.Cache.Get(ctx, key)
}

func TestCounter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := s.Counter("Taggo")

	n, err := c.Count(ctx)
	if err != nil || n != 0 {
		t.Fatalf("Count() on a fresh counter = %d, %v", n, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Increment(ctx, 1); err != nil {
				t.Errorf("Increment: %v", err)
			}
		}()
	}
	wg.Wait()
	if err := c.Increment(ctx, -3); err != nil {
		t.Fatalf("Increment(-3): %v", err)
	}

	if n, _ := c.Count(ctx); n != 7 {
		t.Fatalf("cached Count() = %d, want 7", n)
	}
	s.Cache.Delete(ctx, c.Name)
	if n, _ := c.Count(ctx); n != 7 {
		t.Fatalf("stored Count() = %d, want 7", n)
	}

	if err := c.Delete(ctx); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, _ := c.Count(ctx); n != 0 {
		t.Fatalf("Count() after Delete = %d", n)
	}
}

func TestCounter_ShardsStayBounded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := s.Counter("hits")
	for i := 0; i < 200; i++ {
		if err := c.Increment(ctx, 1); err != nil {
			t.Fatalf("Increment: %v", err)
		}
	}
	var shards int64
	s.DB.Table("counter_shards").Where("name = ?", "hits").Count(&shards)
	if shards > counterShards {
		t.Fatalf("%d shard rows, want at most %d", shards, counterShards)
	}
}

func TestCounter_CountKeepsNewerCachedTotal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := s.Counter("TagGo")
	if err := c.Increment(ctx, 5); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	s.Cache.Set(ctx, c.Name, []byte("9"), 0)
	s.Cache = &missOnce{Cache: s.Cache}

	if n, err := c.Count(ctx); err != nil || n != 5 {
		t.Fatalf("Count() = %d, %v, want the stored sum 5", n, err)
	}
	if n, _ := c.Count(ctx); n != 9 {
		t.Fatalf("Count() = %d, want the cached 9 left in place", n)
	}
}
