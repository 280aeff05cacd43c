package repository

import (
	"context"
	"sync"
)

// MemoryRunGuard serializes runs inside a single process.
type MemoryRunGuard struct {
	held sync.Map
}

func NewMemoryRunGuard() *MemoryRunGuard {
	return &MemoryRunGuard{}
}

func (g *MemoryRunGuard) TryAcquire(ctx context.Context, key string) (bool, error) {
	_, loaded := g.held.LoadOrStore(key, struct{}{})
	return !loaded, nil
}

func (g *MemoryRunGuard) Release(ctx context.Context, key string) error {
	g.held.Delete(key)
	return nil
}
