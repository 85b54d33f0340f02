package users

import (
	"context"
	"sync"
)

type pendingWritesKey struct{}

// PendingCacheWrites collects identity-cache puts made while a database
// transaction is still open. The cache is process-wide, so populating it
// before the transaction commits would leak rows a rollback later discards:
// a failed /start would leave a phantom registration behind. Callers flush
// the collected puts after a successful commit and simply drop them when
// the transaction is rolled back.
type PendingCacheWrites struct {
	mu   sync.Mutex
	puts []func(ctx context.Context)
}

// NewPendingCacheWrites returns an empty collector.
func NewPendingCacheWrites() *PendingCacheWrites {
	return &PendingCacheWrites{}
}

// WithPendingCacheWrites attaches the collector to the context. Service
// methods seeing it defer their cache puts instead of applying them.
func WithPendingCacheWrites(ctx context.Context, w *PendingCacheWrites) context.Context {
	if w == nil {
		return ctx
	}
	return context.WithValue(ctx, pendingWritesKey{}, w)
}

func pendingCacheWrites(ctx context.Context) *PendingCacheWrites {
	if ctx == nil {
		return nil
	}
	w, _ := ctx.Value(pendingWritesKey{}).(*PendingCacheWrites)
	return w
}

func (w *PendingCacheWrites) add(f func(ctx context.Context)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.puts = append(w.puts, f)
}

// Flush applies the collected puts and empties the collector.
func (w *PendingCacheWrites) Flush(ctx context.Context) {
	w.mu.Lock()
	puts := w.puts
	w.puts = nil
	w.mu.Unlock()
	for _, f := range puts {
		f(ctx)
	}
}
