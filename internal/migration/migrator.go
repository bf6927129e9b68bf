package migration

import (
	"context"
	"time"

	"github.com/you/actionq/internal/action"
	"github.com/you/actionq/internal/notify"
	"github.com/you/actionq/internal/store"
	"go.uber.org/zap"
)

// actionMigrator moves one action between stores and returns the new
// destination id, or 0 when nothing was migrated.
type actionMigrator interface {
	Migrate(ctx context.Context, sourceID int64) int64
}

// ActionMigrator is idempotent per action: a source row already moved (or
// deleted) migrates to nothing on a second pass.
type ActionMigrator struct {
	source      store.Store
	destination store.Store
	notifier    notify.Notifier
	log         *zap.Logger
}

func NewActionMigrator(source, destination store.Store, notifier notify.Notifier, log *zap.Logger) *ActionMigrator {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ActionMigrator{source: source, destination: destination, notifier: notifier, log: log}
}

// Migrate runs one action through the transfer. Migration success is defined
// by the destination write succeeding, not by source cleanup: a failed source
// delete still returns the destination id, so an action is never silently
// lost, only ever duplicated until the next pass prunes it.
func (m *ActionMigrator) Migrate(ctx context.Context, sourceID int64) int64 {
	a, err := m.source.Fetch(ctx, sourceID)
	if err != nil {
		m.log.Warn("fetch source action", zap.Int64("action_id", sourceID), zap.Error(err))
		m.notifier.Notify(notify.Stamp(notify.Event{Type: notify.MigrateFailed, ActionID: sourceID}))
		return 0
	}

	if _, ok := a.Schedule.Next(time.Now().UTC()); a.IsNull() || !ok {
		// Absent row, exhausted schedule, or a one-shot cancellation: nothing
		// worth carrying over. Prune whatever is left in the source.
		_ = m.source.Delete(ctx, sourceID)
		m.notifier.Notify(notify.Stamp(notify.Event{Type: notify.NothingToMigrate, ActionID: sourceID}))
		return 0
	}

	sourceStatus, err := m.source.Status(ctx, sourceID)
	if err != nil {
		m.log.Warn("read source status", zap.Int64("action_id", sourceID), zap.Error(err))
		m.notifier.Notify(notify.Stamp(notify.Event{Type: notify.MigrateFailed, ActionID: sourceID}))
		return 0
	}

	// The source row's date travels with the action. Letting the destination
	// recompute from the schedule would push a past-due recurring action into
	// the future and drop it out of the claimable pool.
	due, err := m.source.DateGMT(ctx, sourceID)
	if err != nil {
		m.log.Warn("read source date", zap.Int64("action_id", sourceID), zap.Error(err))
		m.notifier.Notify(notify.Stamp(notify.Event{Type: notify.MigrateFailed, ActionID: sourceID}))
		return 0
	}

	destinationID, err := m.destination.Save(ctx, a, &due)
	if err != nil {
		m.log.Warn("save migrated action", zap.Int64("action_id", sourceID), zap.Error(err))
		m.notifier.Notify(notify.Stamp(notify.Event{Type: notify.MigrateFailed, ActionID: sourceID}))
		return 0
	}

	if a.IsFinished() {
		m.carryLastAttempt(ctx, sourceID, destinationID)
	}
	if sourceStatus == action.StatusFailed {
		if err := m.destination.MarkFailure(ctx, destinationID); err != nil {
			m.log.Warn("preserve failed status", zap.Int64("action_id", destinationID), zap.Error(err))
		}
	}

	if err := m.source.Delete(ctx, sourceID); err != nil {
		m.notifier.Notify(notify.Stamp(notify.Event{
			Type: notify.MigrateIncomplete, ActionID: sourceID, DestinationID: destinationID,
		}))
	}
	m.notifier.Notify(notify.Stamp(notify.Event{
		Type: notify.ActionMigrated, ActionID: sourceID, DestinationID: destinationID,
	}))
	return destinationID
}

// carryLastAttempt transfers the authoritative last-attempt date for a
// finished action. The destination's save path leaves historical actions at
// the never-attempted sentinel, and only sources that opt in through
// LastAttemptReporter have a date worth trusting.
func (m *ActionMigrator) carryLastAttempt(ctx context.Context, sourceID, destinationID int64) {
	reporter, ok := m.source.(store.LastAttemptReporter)
	if !ok {
		return
	}
	setter, ok := m.destination.(store.LastAttemptSetter)
	if !ok {
		return
	}
	last, err := reporter.LastAttemptGMT(ctx, sourceID)
	if err != nil || last.IsZero() {
		return
	}
	if err := setter.SetLastAttempt(ctx, destinationID, last); err != nil {
		m.log.Warn("carry last attempt", zap.Int64("action_id", destinationID), zap.Error(err))
	}
}

// DryRunMigrator reports what would migrate without touching either store.
type DryRunMigrator struct {
	notifier notify.Notifier
}

func NewDryRunMigrator(notifier notify.Notifier) *DryRunMigrator {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &DryRunMigrator{notifier: notifier}
}

func (m *DryRunMigrator) Migrate(_ context.Context, sourceID int64) int64 {
	m.notifier.Notify(notify.Stamp(notify.Event{Type: notify.MigrateDryRun, ActionID: sourceID}))
	return 0
}
