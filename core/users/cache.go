package users

import (
	"context"
	"sync"
	"time"

	"log/slog"

	"github.com/m3rciful/botcore/core/logger"
)

// Cache keeps resolved users keyed by Telegram ID so repeated updates from
// the same account skip the database. Capacity is bounded: when an insert
// would exceed the limit, the oldest-inserted batch is dropped first.
// Lookup order is never touched; a refreshed entry keeps its original slot.
type Cache struct {
	mu    sync.Mutex
	limit int
	items map[int64]*User
	order []int64
}

// NewCache builds a cache bounded to limit entries. Non-positive limits fall
// back to 1000.
func NewCache(limit int) *Cache {
	if limit <= 0 {
		limit = 1000
	}
	return &Cache{
		limit: limit,
		items: make(map[int64]*User, limit),
	}
}

// Get returns the cached user and whether it was present.
func (c *Cache) Get(telegramID int64) (*User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.items[telegramID]
	return u, ok
}

// Put stores the user. Inserting into a full cache first evicts one percent
// of the capacity (at least one entry) starting from the oldest insertion.
// The incoming entry is never part of the evicted batch.
func (c *Cache) Put(ctx context.Context, u *User) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[u.TelegramID]; ok {
		c.items[u.TelegramID] = u
		return
	}

	if len(c.items) >= c.limit {
		c.evictLocked(ctx)
	}
	c.items[u.TelegramID] = u
	c.order = append(c.order, u.TelegramID)
}

// evictLocked drops the oldest batch. Caller holds the lock.
func (c *Cache) evictLocked(ctx context.Context) {
	batch := c.limit / 100
	if batch < 1 {
		batch = 1
	}
	if batch > len(c.order) {
		batch = len(c.order)
	}
	for _, id := range c.order[:batch] {
		delete(c.items, id)
	}
	c.order = append(c.order[:0], c.order[batch:]...)
	logger.Debug(ctx, "cache", "users.evict",
		slog.String("cache", "evict"),
		slog.Int("evicted", batch),
		slog.Int("size", len(c.items)),
	)
}

// Clear drops every entry. Used by the periodic sweep and by tests.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.items)
	c.items = make(map[int64]*User, c.limit)
	c.order = c.order[:0]
	return n
}

// Len reports the current number of cached users.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// SweepLoop clears the cache every interval until the context ends, keeping
// long-cached identities from going stale. Run it in its own goroutine.
func (c *Cache) SweepLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dropped := c.Clear()
			logger.Info(ctx, "cache", "users.sweep",
				slog.String("cache", "sweep"),
				slog.Int("evicted", dropped),
			)
		}
	}
}
