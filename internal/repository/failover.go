package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"sharemirror/internal/domain"
)

const recoveryInterval = time.Minute

// FailoverRunGuard always takes the in-process fallback lock and layers the primary
// on top of it. While the primary is failing only the fallback is consulted, and the
// primary is probed again once a minute.
type FailoverRunGuard struct {
	primary     domain.RunGuard
	fallback    domain.RunGuard
	logger      *zerolog.Logger
	isDown      atomic.Bool
	lastCheck   atomic.Int64
	// primaryHeld tracks keys also locked in the primary.
	primaryHeld sync.Map
	now         func() time.Time
}

func NewFailoverRunGuard(primary, fallback domain.RunGuard, logger *zerolog.Logger) *FailoverRunGuard {
	return &FailoverRunGuard{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (g *FailoverRunGuard) markDown(err error) {
	if !g.isDown.Swap(true) {
		g.logger.Error().Err(err).Msg("Primary run guard failed, falling back to memory")
	}
	g.lastCheck.Store(g.now().UnixNano())
}

func (g *FailoverRunGuard) usePrimary() bool {
	if !g.isDown.Load() {
		return true
	}
	return g.now().Sub(time.Unix(0, g.lastCheck.Load())) > recoveryInterval
}

func (g *FailoverRunGuard) TryAcquire(ctx context.Context, key string) (bool, error) {
	ok, err := g.fallback.TryAcquire(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if !g.usePrimary() {
		return true, nil
	}

	ok, err = g.primary.TryAcquire(ctx, key)
	if err != nil {
		g.markDown(err)
		return true, nil
	}
	if g.isDown.Swap(false) {
		g.logger.Info().Msg("Primary run guard recovered")
	}
	if !ok {
		_ = g.fallback.Release(ctx, key)
		return false, nil
	}
	g.primaryHeld.Store(key, struct{}{})
	return true, nil
}

// Release frees the primary lock first, when one was taken, and then the local one.
func (g *FailoverRunGuard) Release(ctx context.Context, key string) error {
	var err error
	if _, held := g.primaryHeld.LoadAndDelete(key); held {
		if err = g.primary.Release(ctx, key); err != nil {
			g.markDown(err)
		}
	}
	if ferr := g.fallback.Release(ctx, key); err == nil {
		err = ferr
	}
	return err
}
