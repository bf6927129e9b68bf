package notify

import (
	"time"

	"go.uber.org/zap"
)

// EventType enumerates the boundary signals emitted by the stores and the
// migration engine. Consumers (loggers, audit collectors) subscribe via the
// Notifier interface.
type EventType string

const (
	ActionStored       EventType = "action_stored"
	ActionCanceled     EventType = "action_canceled"
	ActionDeleted      EventType = "action_deleted"
	ActionReset        EventType = "action_reset"
	ExecutionStarted   EventType = "execution_started"
	ExecutionCompleted EventType = "execution_completed"
	ExecutionFailed    EventType = "execution_failed"
	ExecutionTimedOut  EventType = "execution_timed_out"
	UnexpectedShutdown EventType = "unexpected_shutdown"

	MigrationBatchStarting EventType = "migration_batch_starting"
	MigrationBatchComplete EventType = "migration_batch_complete"
	ActionMigrated         EventType = "action_migrated"
	NothingToMigrate       EventType = "nothing_to_migrate"
	MigrateFailed          EventType = "migrate_failed"
	MigrateIncomplete      EventType = "migrate_incomplete"
	MigrateDryRun          EventType = "migrate_dry_run"
)

// Event is one boundary signal. ActionID refers to the store the emitter
// owns; DestinationID is set on migration signals that produced a new row.
type Event struct {
	Type          EventType `json:"type"`
	ActionID      int64     `json:"action_id,omitempty"`
	DestinationID int64     `json:"destination_id,omitempty"`
	RunID         string    `json:"run_id,omitempty"`
	ActionIDs     []int64   `json:"action_ids,omitempty"`
	Error         string    `json:"error,omitempty"`
	At            time.Time `json:"at"`
}

type Notifier interface {
	Notify(Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(Event) {}

// Multi fans an event out to several notifiers in order.
type Multi []Notifier

func (m Multi) Notify(e Event) {
	for _, n := range m {
		n.Notify(e)
	}
}

// Zap records events on a structured logger.
type Zap struct {
	log *zap.Logger
}

func NewZap(log *zap.Logger) *Zap { return &Zap{log: log} }

func (z *Zap) Notify(e Event) {
	fields := []zap.Field{zap.String("event", string(e.Type))}
	if e.ActionID != 0 {
		fields = append(fields, zap.Int64("action_id", e.ActionID))
	}
	if e.DestinationID != 0 {
		fields = append(fields, zap.Int64("destination_id", e.DestinationID))
	}
	if e.RunID != "" {
		fields = append(fields, zap.String("run_id", e.RunID))
	}
	if len(e.ActionIDs) > 0 {
		fields = append(fields, zap.Int64s("action_ids", e.ActionIDs))
	}
	if e.Error != "" {
		fields = append(fields, zap.String("error", e.Error))
	}
	z.log.Info("scheduler event", fields...)
}

// Stamp fills the event timestamp if the emitter left it unset.
func Stamp(e Event) Event {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return e
}
