package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLRUWithTTL_BasicOperations(t *testing.T) {
	c, err := NewLRUWithTTL[string, int](2, 0)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = (%v, %v), want (1, true)", v, ok)
	}

	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3) // evicts b: a was touched more recently

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if stats := c.Stats(); stats.Evicted != 1 {
		t.Errorf("Evicted = %d, want 1", stats.Evicted)
	}
}

func TestLRUWithTTL_Expiration(t *testing.T) {
	c, err := NewLRUWithTTL[string, string](4, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	c.Set("k", "v")
	if _, ok := c.Get("k"); !ok {
		t.Fatal("k should be present before expiry")
	}

	time.Sleep(60 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Error("k should have expired")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not removed on read, Len = %d", c.Len())
	}
}

func TestLRUWithTTL_GetOrLoadDeduplicates(t *testing.T) {
	c, err := NewLRUWithTTL[string, int](4, 0)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	var calls atomic.Int32
	release := make(chan struct{})
	load := func(string) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad("data.csv", load)
			if err != nil {
				t.Errorf("GetOrLoad: %v", err)
			}
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("loader called %d times, want 1", n)
	}
	for i, v := range results {
		if v != 42 {
			t.Errorf("result[%d] = %d, want 42", i, v)
		}
	}

	if _, err := c.GetOrLoad("data.csv", load); err != nil {
		t.Fatal(err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("cached value reloaded, loader called %d times", n)
	}
}

func TestLRUWithTTL_GetOrLoadDoesNotCacheErrors(t *testing.T) {
	c, err := NewLRUWithTTL[string, int](4, 0)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	boom := errors.New("missing file")
	if _, err := c.GetOrLoad("x", func(string) (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if c.Len() != 0 {
		t.Error("failed load must not be cached")
	}

	v, err := c.GetOrLoad("x", func(string) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Errorf("retry = (%d, %v), want (7, nil)", v, err)
	}
}

func TestLRUWithTTL_Stats(t *testing.T) {
	c, err := NewLRUWithTTL[string, int](4, 0)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	c.Set("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 2/1", stats.Hits, stats.Misses)
	}
	if stats.HitRate < 0.66 || stats.HitRate > 0.67 {
		t.Errorf("HitRate = %v, want ~0.667", stats.HitRate)
	}
}

func TestLRUWithTTL_CleanupExpired(t *testing.T) {
	c, err := NewLRUWithTTL[int, int](10, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	for i := 0; i < 5; i++ {
		c.Set(i, i)
	}
	time.Sleep(60 * time.Millisecond)
	c.Set(99, 99)

	if removed := c.CleanupExpired(); removed != 5 {
		t.Errorf("CleanupExpired = %d, want 5", removed)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}
