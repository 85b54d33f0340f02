package users

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func mkUser(id int64) *User {
	name := fmt.Sprintf("user-%d", id)
	return &User{TelegramID: id, FullName: name, Role: RoleUser}
}

func TestCachePutGet(t *testing.T) {
	ctx := context.Background()
	c := NewCache(10)
	c.Put(ctx, mkUser(1))
	u, ok := c.Get(1)
	if !ok || u.TelegramID != 1 {
		t.Fatalf("expected hit for 1, got ok=%v u=%v", ok, u)
	}
	if _, ok := c.Get(2); ok {
		t.Fatal("expected miss for 2")
	}
}

func TestCacheEvictsOldestBatch(t *testing.T) {
	ctx := context.Background()
	c := NewCache(200) // batch = 2
	for i := int64(1); i <= 200; i++ {
		c.Put(ctx, mkUser(i))
	}
	c.Put(ctx, mkUser(201))
	if _, ok := c.Get(1); ok {
		t.Fatal("oldest entry 1 should be evicted")
	}
	if _, ok := c.Get(2); ok {
		t.Fatal("second-oldest entry 2 should be evicted")
	}
	if _, ok := c.Get(3); !ok {
		t.Fatal("entry 3 should survive")
	}
	if _, ok := c.Get(201); !ok {
		t.Fatal("incoming entry must never be evicted")
	}
	if got := c.Len(); got != 199 {
		t.Fatalf("expected 199 entries after batch eviction, got %d", got)
	}
}

func TestCacheSmallLimitEvictsOne(t *testing.T) {
	ctx := context.Background()
	c := NewCache(3) // batch = max(1, 3/100) = 1
	for i := int64(1); i <= 3; i++ {
		c.Put(ctx, mkUser(i))
	}
	c.Put(ctx, mkUser(4))
	if _, ok := c.Get(1); ok {
		t.Fatal("entry 1 should be evicted")
	}
	if got := c.Len(); got != 3 {
		t.Fatalf("expected len 3, got %d", got)
	}
}

func TestCacheRefreshKeepsInsertionSlot(t *testing.T) {
	ctx := context.Background()
	c := NewCache(3)
	c.Put(ctx, mkUser(1))
	c.Put(ctx, mkUser(2))
	c.Put(ctx, mkUser(3))

	// Refreshing 1 must not move it to the back of the eviction order.
	refreshed := mkUser(1)
	refreshed.FullName = "renamed"
	c.Put(ctx, refreshed)
	if got := c.Len(); got != 3 {
		t.Fatalf("refresh must not grow the cache, len=%d", got)
	}

	c.Put(ctx, mkUser(4))
	if _, ok := c.Get(1); ok {
		t.Fatal("entry 1 keeps its original slot and is evicted first")
	}
	u, ok := c.Get(2)
	if !ok || u.TelegramID != 2 {
		t.Fatal("entry 2 should survive")
	}
}

func TestCacheRefreshUpdatesValue(t *testing.T) {
	ctx := context.Background()
	c := NewCache(10)
	c.Put(ctx, mkUser(7))
	renamed := mkUser(7)
	renamed.FullName = "renamed"
	c.Put(ctx, renamed)
	u, _ := c.Get(7)
	if u.FullName != "renamed" {
		t.Fatalf("expected refreshed value, got %q", u.FullName)
	}
}

func TestCacheClear(t *testing.T) {
	ctx := context.Background()
	c := NewCache(10)
	for i := int64(1); i <= 5; i++ {
		c.Put(ctx, mkUser(i))
	}
	if n := c.Clear(); n != 5 {
		t.Fatalf("expected 5 dropped, got %d", n)
	}
	if c.Len() != 0 {
		t.Fatal("cache should be empty after clear")
	}
	// Reusable after clear.
	c.Put(ctx, mkUser(9))
	if _, ok := c.Get(9); !ok {
		t.Fatal("cache must accept entries after clear")
	}
}

func TestCacheSweepLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := NewCache(10)
	c.Put(ctx, mkUser(1))

	go c.SweepLoop(ctx, 10*time.Millisecond)

	deadline := time.After(time.Second)
	for c.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("sweep did not clear the cache in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
