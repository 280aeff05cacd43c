package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"sharemirror/internal/metrics"
)

var ErrInvalidSchedule = errors.New("invalid schedule expression")

// Five or six fields (leading seconds optional) plus @daily style descriptors.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Parse validates expr. Times are interpreted in the server's local zone unless the
// expression carries a CRON_TZ= prefix.
func Parse(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidSchedule)
	}
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	return s, nil
}

func Valid(expr string) bool {
	_, err := Parse(expr)
	return err == nil
}

type entry struct {
	expr string
	stop chan struct{}
	done chan struct{}
}

// halt stops the entry's timer loop and waits for it to exit. In-flight callbacks are
// not waited for.
func (e *entry) halt() {
	close(e.stop)
	<-e.done
}

// Scheduler keeps at most one timer per key. Each firing runs its callback on a fresh
// goroutine, so one slow job never delays another key's timer.
type Scheduler struct {
	clock  clockwork.Clock
	logger *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry
}

func New(clock clockwork.Clock, logger *zerolog.Logger) *Scheduler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clock:   clock,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
	}
}

// Arm replaces whatever is armed under key. An invalid expression leaves the key unarmed.
func (s *Scheduler) Arm(key, expr string, fn func(ctx context.Context)) error {
	sched, err := Parse(expr)

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[key]; ok {
		old.halt()
		delete(s.entries, key)
	}
	if err != nil {
		metrics.SetArmed(len(s.entries))
		return err
	}
	if s.ctx.Err() != nil {
		return errors.New("scheduler stopped")
	}

	e := &entry{expr: strings.TrimSpace(expr), stop: make(chan struct{}), done: make(chan struct{})}
	s.entries[key] = e
	metrics.SetArmed(len(s.entries))

	s.wg.Add(1)
	go s.loop(key, e, sched, fn)

	s.logger.Debug().Str("key", key).Str("schedule", e.expr).Msg("timer armed")
	return nil
}

func (s *Scheduler) Disarm(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.halt()
		delete(s.entries, key)
		metrics.SetArmed(len(s.entries))
		s.logger.Debug().Str("key", key).Msg("timer disarmed")
	}
}

func (s *Scheduler) Armed(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop disarms everything and waits for running callbacks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	for key, e := range s.entries {
		e.halt()
		delete(s.entries, key)
	}
	metrics.SetArmed(0)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) loop(key string, e *entry, sched cron.Schedule, fn func(ctx context.Context)) {
	defer s.wg.Done()
	defer close(e.done)

	for {
		now := s.clock.Now()
		next := sched.Next(now)
		if next.IsZero() {
			s.logger.Warn().Str("key", key).Msg("schedule has no future activation")
			return
		}

		timer := s.clock.NewTimer(next.Sub(now))
		select {
		case <-e.stop:
			timer.Stop()
			return
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}

		// a disarm racing with the timer wins
		select {
		case <-e.stop:
			return
		default:
		}

		s.wg.Add(1)
		go s.fire(key, fn)
	}
}

func (s *Scheduler) fire(key string, fn func(ctx context.Context)) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("key", key).Interface("panic", r).Msg("scheduled job panicked")
		}
	}()
	// in-flight jobs finish even while the scheduler is stopping
	fn(context.Background())
}
