// Package scheduler runs the periodic cache warm-up job.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Warmable refreshes cached forecasts for a set of symbols.
type Warmable interface {
	Warm(ctx context.Context, symbols []string) error
}

// Warmer refreshes the configured symbols on a cron schedule.
type Warmer struct {
	cron    *cron.Cron
	target  Warmable
	symbols []string
	timeout time.Duration
	log     zerolog.Logger

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

// NewWarmer schedules a warm-up of symbols. schedule accepts standard
// five-field cron specs and descriptors such as "@every 30m".
func NewWarmer(target Warmable, schedule string, symbols []string, timeout time.Duration, log zerolog.Logger) (*Warmer, error) {
	w := &Warmer{
		cron:    cron.New(),
		target:  target,
		symbols: symbols,
		timeout: timeout,
		log:     log.With().Str("component", "scheduler").Logger(),
	}

	if _, err := w.cron.AddFunc(schedule, func() {
		_ = w.Run(context.Background())
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule warm-up %q: %w", schedule, err)
	}

	return w, nil
}

// Start starts the scheduler
func (w *Warmer) Start() {
	w.log.Info().Strs("symbols", w.symbols).Msg("starting cache warm-up scheduler")
	w.cron.Start()
}

// Stop waits for a running warm-up to finish or ctx to expire.
func (w *Warmer) Stop(ctx context.Context) {
	done := w.cron.Stop()
	select {
	case <-done.Done():
		w.log.Info().Msg("scheduler stopped")
	case <-ctx.Done():
		w.log.Warn().Msg("scheduler stop timed out")
	}
}

// Run warms every symbol once.
func (w *Warmer) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	err := w.target.Warm(ctx, w.symbols)

	w.mu.Lock()
	w.lastRun, w.lastErr = start, err
	w.mu.Unlock()

	if err != nil {
		w.log.Warn().Err(err).Dur("duration", time.Since(start)).Msg("cache warm-up finished with errors")
		return err
	}
	w.log.Info().Int("symbols", len(w.symbols)).Dur("duration", time.Since(start)).Msg("cache warm-up complete")
	return nil
}

// LastRun returns when the last warm-up started and how it ended.
func (w *Warmer) LastRun() (time.Time, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastRun, w.lastErr
}
