package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/layer-3/passage/ports"
)

// DefaultSweepInterval is how often the registry is purged
const DefaultSweepInterval = 24 * time.Hour

// Sweeper periodically deletes revocation entries whose tokens have expired
// on their own. Failures are logged and retried on the next tick.
type Sweeper struct {
	revocations ports.RevocationStore
	interval    time.Duration
	options

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  bool
	mu       sync.Mutex
}

// NewSweeper creates a sweeper for the registry
func NewSweeper(revocations ports.RevocationStore, interval time.Duration, opts ...Option) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		revocations: revocations,
		interval:    interval,
		options:     buildOptions(opts),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// RunOnce performs a single sweep and returns how many entries were removed
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	removed, err := s.revocations.Sweep(ctx, s.now())
	s.metrics.Sweep(removed, err)
	if err != nil {
		s.logger.ErrorContext(ctx, "revocation sweep failed", slog.Any("error", err))
		return 0, err
	}
	s.logger.InfoContext(ctx, "revocation sweep finished", "removed", removed)
	return removed, nil
}

// Start sweeps once immediately and then on every interval until Stop is
// called or ctx is done. Calling Start twice has no effect.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	go s.loop(ctx)
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	_, _ = s.RunOnce(ctx)
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.RunOnce(ctx)
		}
	}
}

// Stop ends the loop and waits for an in-flight sweep to finish
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
}
