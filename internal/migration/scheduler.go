package migration

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// StatusComplete is the persisted value of the migration flag once the source
// store has been drained.
const StatusComplete = "complete"

// FlagStore persists the process-wide migration flag. The canonical store
// implements it over the scheduler_state table.
type FlagStore interface {
	LoadMigrationStatus(ctx context.Context) (string, error)
	SaveMigrationStatus(ctx context.Context, value string) error
}

// Scheduler drives the background migration: a recurring cron entry invokes
// one batch at a time until a batch comes back empty, then flips the
// persistent completion flag and stops recurring. The flag is loaded once at
// startup and persisted on transition; normal operation never resets it.
type Scheduler struct {
	runner    *Runner
	flags     FlagStore
	cron      *cron.Cron
	batchSize int
	interval  time.Duration
	log       *zap.Logger

	mu       sync.Mutex
	entry    cron.EntryID
	complete atomic.Bool
}

func NewScheduler(ctx context.Context, runner *Runner, flags FlagStore, batchSize int, interval time.Duration, log *zap.Logger) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	status, err := flags.LoadMigrationStatus(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load migration flag")
	}
	s := &Scheduler{
		runner:    runner,
		flags:     flags,
		cron:      cron.New(),
		batchSize: batchSize,
		interval:  interval,
		log:       log,
	}
	s.complete.Store(status == StatusComplete)
	return s, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the cadence; running batches finish before Stop returns.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) IsMigrationComplete() bool { return s.complete.Load() }

func (s *Scheduler) IsMigrationScheduled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry != 0
}

// ScheduleMigration registers the recurring batch entry. Scheduling twice is
// a no-op, as is scheduling after completion.
func (s *Scheduler) ScheduleMigration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry != 0 || s.complete.Load() {
		return
	}
	s.entry = s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		s.RunOneBatch(context.Background())
	}))
	s.log.Info("background migration scheduled", zap.Duration("interval", s.interval), zap.Int("batch_size", s.batchSize))
}

func (s *Scheduler) UnscheduleMigration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == 0 {
		return
	}
	s.cron.Remove(s.entry)
	s.entry = 0
}

// MarkComplete persists the completion flag and flips the cached value.
func (s *Scheduler) MarkComplete(ctx context.Context) error {
	if err := s.flags.SaveMigrationStatus(ctx, StatusComplete); err != nil {
		return err
	}
	s.complete.Store(true)
	s.log.Info("migration marked complete")
	return nil
}

// RunOneBatch migrates a single batch. When the batch is empty the source is
// exhausted: mark complete and stop recurring.
func (s *Scheduler) RunOneBatch(ctx context.Context) {
	n, err := s.runner.Run(ctx, s.batchSize)
	if err != nil {
		s.log.Warn("migration batch failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("migration batch processed", zap.Int("count", n))
		return
	}
	if err := s.MarkComplete(ctx); err != nil {
		s.log.Warn("persist migration flag", zap.Error(err))
		return
	}
	s.UnscheduleMigration()
}
