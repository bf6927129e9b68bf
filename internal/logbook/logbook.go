// Package logbook records per-action execution history and migrates it
// alongside the actions themselves.
package logbook

import (
	"context"
	"time"

	"github.com/you/actionq/internal/notify"
)

// Entry is one history line for an action.
type Entry struct {
	ActionID int64
	Message  string
	DateGMT  time.Time
}

type Logbook interface {
	Log(ctx context.Context, actionID int64, message string) error
	Entries(ctx context.Context, actionID int64) ([]Entry, error)
	// DeleteFor removes every entry for the action; called when the action
	// itself is deleted.
	DeleteFor(ctx context.Context, actionID int64) error
}

// Recorder adapts a Logbook into a notify.Notifier so lifecycle signals are
// written into the history automatically, and entries are cascade-deleted
// when their action is removed.
type Recorder struct {
	book Logbook
}

func NewRecorder(book Logbook) *Recorder { return &Recorder{book: book} }

func (r *Recorder) Notify(e notify.Event) {
	ctx := context.Background()
	switch e.Type {
	case notify.ActionStored:
		_ = r.book.Log(ctx, e.ActionID, "action created")
	case notify.ActionCanceled:
		_ = r.book.Log(ctx, e.ActionID, "action canceled")
	case notify.ExecutionStarted:
		_ = r.book.Log(ctx, e.ActionID, "action started")
	case notify.ExecutionCompleted:
		_ = r.book.Log(ctx, e.ActionID, "action complete")
	case notify.ExecutionFailed:
		msg := "action failed"
		if e.Error != "" {
			msg += ": " + e.Error
		}
		_ = r.book.Log(ctx, e.ActionID, msg)
	case notify.ExecutionTimedOut:
		_ = r.book.Log(ctx, e.ActionID, "action timed out")
	case notify.ActionReset:
		_ = r.book.Log(ctx, e.ActionID, "action reset")
	case notify.ActionDeleted:
		_ = r.book.DeleteFor(ctx, e.ActionID)
	}
}

// Migrator copies an action's history from the source book to the
// destination under its new id.
type Migrator struct {
	source      Logbook
	destination Logbook
}

func NewMigrator(source, destination Logbook) *Migrator {
	return &Migrator{source: source, destination: destination}
}

func (m *Migrator) Migrate(ctx context.Context, sourceID, destinationID int64) error {
	entries, err := m.source.Entries(ctx, sourceID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := m.destination.Log(ctx, destinationID, e.Message); err != nil {
			return err
		}
	}
	return nil
}
