package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"
)

// DefaultInterval is the default minimum time between scheduler ticks.
const DefaultInterval = 5 * time.Minute

// Scheduler drives the transition engine from a background cron loop.
//
// Ticks are never queued: if a tick is still running when the next one
// fires, the new tick is skipped. The guard is an atomic flag, so two ticks
// cannot run concurrently under real parallelism. Stop is cooperative: the
// in-flight tick finishes its current topic and exits without leaving a
// topic mid-transition.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	logger   *log.Logger

	cron    *cron.Cron
	running atomic.Bool
	started atomic.Bool
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler around the engine. An interval of 0
// defaults to DefaultInterval. logger may be nil.
func NewScheduler(engine *Engine, interval time.Duration, logger *log.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		engine:   engine,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the background loop. The loop stops when ctx is cancelled
// or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("scheduler already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.cron = cron.New()
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.tick(runCtx)
	})
	if err != nil {
		s.started.Store(false)
		cancel()
		return fmt.Errorf("scheduler: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "interval", s.interval)

	go func() {
		<-runCtx.Done()
		s.cron.Stop()
	}()

	return nil
}

// Stop signals the loop to exit. The in-flight tick, if any, finishes its
// current topic first; Stop blocks until it has.
func (s *Scheduler) Stop() {
	if !s.started.Load() {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.started.Store(false)
	s.logger.Info("scheduler stopped")
}

// tick runs one pass of the transition engine.
func (s *Scheduler) tick(ctx context.Context) {
	// Skipped, never queued. CompareAndSwap keeps two ticks from running
	// concurrently under genuine parallelism.
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("tick skipped, previous still running")
		return
	}
	defer s.running.Store(false)

	if ctx.Err() != nil {
		return
	}

	due, err := s.engine.Due(ctx)
	if err != nil {
		s.logger.Error("due pre-check failed", "err", err)
		return
	}
	if !due {
		return
	}

	if err := s.engine.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("tick failed", "err", err)
	}
}
