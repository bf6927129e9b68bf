package migration

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/you/actionq/internal/logbook"
	"github.com/you/actionq/internal/notify"
	"github.com/you/actionq/internal/store"
	"go.uber.org/zap"
)

// Runner orchestrates one migration batch: fetch candidates, migrate each
// action and its history, record an audit entry for the id mapping. Call
// repeatedly until Run returns 0.
type Runner struct {
	destination store.Store
	fetcher     *BatchFetcher
	migrator    actionMigrator
	books       *logbook.Migrator
	destBook    logbook.Logbook
	notifier    notify.Notifier
	log         *zap.Logger
}

func NewRunner(c *Config) (*Runner, error) {
	source, err := c.SourceStore()
	if err != nil {
		return nil, err
	}
	destination, err := c.DestinationStore()
	if err != nil {
		return nil, err
	}
	sourceBook, err := c.SourceBook()
	if err != nil {
		return nil, err
	}
	destBook, err := c.DestinationBook()
	if err != nil {
		return nil, err
	}
	var migrator actionMigrator = NewActionMigrator(source, destination, c.notifier, c.logger)
	if c.dryRun {
		migrator = NewDryRunMigrator(c.notifier)
	}
	return &Runner{
		destination: destination,
		fetcher:     NewBatchFetcher(source),
		migrator:    migrator,
		books:       logbook.NewMigrator(sourceBook, destBook),
		destBook:    destBook,
		notifier:    c.notifier,
		log:         c.logger,
	}, nil
}

// Run processes one batch and returns the number of candidates it contained.
// Zero means the source store has nothing left to offer this pass.
func (r *Runner) Run(ctx context.Context, batchSize int) (int, error) {
	batch, err := r.fetcher.Fetch(ctx, batchSize)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}
	r.MigrateActions(ctx, batch)
	return len(batch), nil
}

// MigrateActions moves the given source actions immediately. The hybrid store
// calls this for rows its reads surfaced; Run calls it per batch.
func (r *Runner) MigrateActions(ctx context.Context, ids []int64) {
	runID := uuid.NewString()
	r.notifier.Notify(notify.Stamp(notify.Event{
		Type: notify.MigrationBatchStarting, RunID: runID, ActionIDs: ids,
	}))

	// Migrated rows are not new work; keep the destination's stored signal
	// quiet so they are not logged as freshly created actions.
	if sup, ok := r.destination.(store.StoredSuppressor); ok {
		restore := sup.SuppressStoredSignals()
		defer restore()
	}

	for _, sourceID := range ids {
		destinationID := r.migrator.Migrate(ctx, sourceID)
		if destinationID == 0 {
			continue
		}
		if err := r.books.Migrate(ctx, sourceID, destinationID); err != nil {
			r.log.Warn("migrate log entries",
				zap.Int64("source_id", sourceID), zap.Int64("destination_id", destinationID), zap.Error(err))
		}
		if err := r.destBook.Log(ctx, destinationID,
			fmt.Sprintf("migrated legacy action %d to action %d (run %s)", sourceID, destinationID, runID)); err != nil {
			r.log.Warn("write audit entry", zap.Int64("destination_id", destinationID), zap.Error(err))
		}
	}

	r.notifier.Notify(notify.Stamp(notify.Event{
		Type: notify.MigrationBatchComplete, RunID: runID, ActionIDs: ids,
	}))
}
