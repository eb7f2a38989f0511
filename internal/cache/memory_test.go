package cache

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryCache_BasicOperations(t *testing.T) {
	c := NewMemoryCache(1024)

	if err := c.Put("a", []byte("alpha")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, ok := c.Get("a")
	if !ok || !bytes.Equal(got, []byte("alpha")) {
		t.Fatalf("Get(a) = %q, %v", got, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) = true")
	}
	if !c.Contains("a") {
		t.Error("Contains(a) = false")
	}

	c.Delete("a")
	if c.Contains("a") || c.Size() != 0 {
		t.Errorf("after Delete: contains=%v size=%d", c.Contains("a"), c.Size())
	}
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	c := NewMemoryCache(30)
	c.Put("a", make([]byte, 10))
	c.Put("b", make([]byte, 10))
	c.Put("c", make([]byte, 10))

	// a becomes most recently used, so b goes first
	c.Get("a")
	c.Put("d", make([]byte, 10))

	tests := []struct {
		key  string
		want bool
	}{
		{"a", true},
		{"b", false},
		{"c", true},
		{"d", true},
	}
	for _, tt := range tests {
		if got := c.Contains(tt.key); got != tt.want {
			t.Errorf("Contains(%s) = %v, want %v", tt.key, got, tt.want)
		}
	}
	if s := c.Stats(); s.Evictions != 1 || s.Size != 30 {
		t.Errorf("stats = %+v", s)
	}
}

func TestMemoryCache_ItemTooLarge(t *testing.T) {
	c := NewMemoryCache(4)
	if err := c.Put("big", []byte("too large")); err != ErrItemTooLarge {
		t.Errorf("Put error = %v, want ErrItemTooLarge", err)
	}
}

func TestMemoryCache_Replace(t *testing.T) {
	c := NewMemoryCache(100)
	c.Put("k", make([]byte, 40))
	c.Put("k", make([]byte, 10))
	if c.Size() != 10 {
		t.Errorf("Size() = %d, want 10", c.Size())
	}
}

func TestMemoryCache_Stats(t *testing.T) {
	c := NewMemoryCache(100)
	c.Put("k", []byte("v"))
	c.Get("k")
	c.Get("k")
	c.Get("nope")

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 || s.ItemCount != 1 {
		t.Errorf("stats = %+v", s)
	}
	if s.HitRate < 0.66 || s.HitRate > 0.67 {
		t.Errorf("HitRate = %f", s.HitRate)
	}
}

func TestMemoryCache_Prune(t *testing.T) {
	c := NewMemoryCache(100)
	c.Put("old", []byte("1"))
	time.Sleep(20 * time.Millisecond)
	c.Put("new", []byte("2"))

	if removed := c.Prune(10 * time.Millisecond); removed != 1 {
		t.Errorf("Prune removed %d, want 1", removed)
	}
	if c.Contains("old") || !c.Contains("new") {
		t.Error("Prune removed the wrong entry")
	}
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	c := NewMemoryCache(1 << 20)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("%d-%d", id, j%10)
				c.Put(key, []byte(key))
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	if s := c.Stats(); s.ItemCount != 80 {
		t.Errorf("ItemCount = %d, want 80", s.ItemCount)
	}
}

func BenchmarkMemoryCache_Get(b *testing.B) {
	c := NewMemoryCache(1 << 20)
	c.Put("k", make([]byte, 4096))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get("k")
	}
}
