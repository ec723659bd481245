// Package scheduler is the periodic driver: each tick it checks stale
// account sessions, re-validates stale or failed sources and targets, and
// triggers message processing for every deliverable source. Units of work
// are dispatched to a bounded worker pool so one slow account cannot block
// the others.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telebridge/telebridge/internal/database"
	"github.com/telebridge/telebridge/internal/metrics"
	"github.com/telebridge/telebridge/internal/notify"
)

// SessionChecker is the slice of the session manager the scheduler drives.
type SessionChecker interface {
	CheckStatus(ctx context.Context, accountID int64) error
}

// Validator re-validates a source or target by id.
type Validator interface {
	Validate(ctx context.Context, id int64) error
}

// Processor runs a message-processing cycle for one source.
type Processor interface {
	ProcessSource(ctx context.Context, sourceID int64) error
}

// Config tunes the scheduler.
type Config struct {
	Interval             time.Duration // Tick interval
	StatusStaleAfter     time.Duration // Re-check sessions older than this
	ValidationStaleAfter time.Duration // Re-validate entries older than this
	Workers              int           // Concurrent tasks per cycle
}

func (c *Config) defaults() {
	if c.Interval == 0 {
		c.Interval = time.Minute
	}
	if c.StatusStaleAfter == 0 {
		c.StatusStaleAfter = 15 * time.Minute
	}
	if c.ValidationStaleAfter == 0 {
		c.ValidationStaleAfter = 6 * time.Hour
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
}

// Scheduler runs the periodic cycle.
type Scheduler struct {
	db        *database.DB
	sessions  SessionChecker
	sources   Validator
	targets   Validator
	engine    Processor
	notifier  *notify.Notifier
	collector *metrics.Collector
	logger    *slog.Logger
	cfg       Config
	stopChan  chan struct{}
}

// New creates a scheduler. notifier and collector may be nil.
func New(db *database.DB, sessions SessionChecker, sources, targets Validator, engine Processor, notifier *notify.Notifier, collector *metrics.Collector, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	return &Scheduler{
		db:        db,
		sessions:  sessions,
		sources:   sources,
		targets:   targets,
		engine:    engine,
		notifier:  notifier,
		collector: collector,
		logger:    logger.With("component", "scheduler"),
		cfg:       cfg,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the tick loop. It runs one cycle immediately, then every
// interval until Stop is called or the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("starting scheduler",
		"interval", s.cfg.Interval, "workers", s.cfg.Workers)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.RunCycle(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunCycle(ctx)
		case <-s.stopChan:
			s.logger.Info("scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info("scheduler stopping, context cancelled")
			return
		}
	}
}

// Stop stops the tick loop.
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

// RunCycle executes one full pass: health checks, re-validation, then
// message processing. Groups run in order so validation sees fresh session
// status and processing sees fresh validity; tasks inside a group run
// concurrently.
func (s *Scheduler) RunCycle(ctx context.Context) {
	logger := s.logger.With("cycle", uuid.NewString()[:8])
	start := time.Now()

	s.checkAccounts(ctx, logger)
	s.revalidate(ctx, logger)
	s.processSources(ctx, logger)

	logger.Debug("cycle finished", "elapsed", time.Since(start))
}

func (s *Scheduler) checkAccounts(ctx context.Context, logger *slog.Logger) {
	staleBefore := time.Now().Add(-s.cfg.StatusStaleAfter)
	accounts, err := s.db.ListAccountsDueCheck(ctx, staleBefore)
	if err != nil {
		logger.Error("failed to list accounts due check", "error", err)
		return
	}

	tasks := make([]func(context.Context), 0, len(accounts))
	for _, account := range accounts {
		tasks = append(tasks, func(ctx context.Context) {
			if err := s.sessions.CheckStatus(ctx, account.ID); err != nil {
				s.collector.StatusCheck("failed")
				s.notifier.AccountError(ctx, account.DisplayName(), err)
				logger.Warn("status check failed", "account_id", account.ID, "error", err)
				return
			}
			s.collector.StatusCheck("ok")
		})
	}
	s.dispatch(ctx, tasks)
}

func (s *Scheduler) revalidate(ctx context.Context, logger *slog.Logger) {
	staleBefore := time.Now().Add(-s.cfg.ValidationStaleAfter)

	var tasks []func(context.Context)

	sources, err := s.db.ListSourcesDueValidation(ctx, staleBefore)
	if err != nil {
		logger.Error("failed to list sources due validation", "error", err)
	} else {
		for _, source := range sources {
			tasks = append(tasks, func(ctx context.Context) {
				if err := s.sources.Validate(ctx, source.ID); err != nil {
					s.collector.Validation("source", "failed")
					logger.Warn("source validation failed", "source_id", source.ID, "error", err)
					return
				}
				s.collector.Validation("source", "ok")
			})
		}
	}

	targets, err := s.db.ListTargetsDueValidation(ctx, staleBefore)
	if err != nil {
		logger.Error("failed to list targets due validation", "error", err)
	} else {
		for _, target := range targets {
			tasks = append(tasks, func(ctx context.Context) {
				if err := s.targets.Validate(ctx, target.ID); err != nil {
					s.collector.Validation("target", "failed")
					logger.Warn("target validation failed", "target_id", target.ID, "error", err)
					return
				}
				s.collector.Validation("target", "ok")
			})
		}
	}

	s.dispatch(ctx, tasks)
}

func (s *Scheduler) processSources(ctx context.Context, logger *slog.Logger) {
	sources, err := s.db.ListProcessableSources(ctx)
	if err != nil {
		logger.Error("failed to list processable sources", "error", err)
		return
	}

	tasks := make([]func(context.Context), 0, len(sources))
	for _, source := range sources {
		tasks = append(tasks, func(ctx context.Context) {
			if err := s.engine.ProcessSource(ctx, source.ID); err != nil {
				logger.Warn("source processing failed", "source_id", source.ID, "error", err)
			}
		})
	}
	s.dispatch(ctx, tasks)
}

// dispatch runs tasks on a bounded worker pool and waits for the group.
func (s *Scheduler) dispatch(ctx context.Context, tasks []func(context.Context)) {
	if len(tasks) == 0 {
		return
	}

	sem := make(chan struct{}, s.cfg.Workers)
	var wg sync.WaitGroup
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(run func(context.Context)) {
			defer wg.Done()
			defer func() { <-sem }()
			run(ctx)
		}(task)
	}
	wg.Wait()
}
