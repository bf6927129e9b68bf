package migration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/actionq/internal/action"
	"github.com/you/actionq/internal/notify"
	"github.com/you/actionq/internal/schedule"
	"github.com/you/actionq/internal/store"
)

type sink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (s *sink) Notify(e notify.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *sink) types() []notify.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

func (s *sink) has(t notify.EventType) bool {
	for _, got := range s.types() {
		if got == t {
			return true
		}
	}
	return false
}

func TestMigrateMovesPendingAction(t *testing.T) {
	ctx := context.Background()
	src, dst := store.NewMemory(nil), store.NewMemory(nil)
	events := &sink{}

	due := time.Now().Add(time.Hour).UTC()
	srcID := seed(t, src, "send_email", due)

	m := NewActionMigrator(src, dst, events, nil)
	dstID := m.Migrate(ctx, srcID)
	require.NotZero(t, dstID)

	assert.Zero(t, src.Len(), "source copy removed")
	got, err := dst.Fetch(ctx, dstID)
	require.NoError(t, err)
	assert.Equal(t, "send_email", got.Hook)

	date, err := dst.DateGMT(ctx, dstID)
	require.NoError(t, err)
	assert.True(t, due.Equal(date), "scheduled date survives the move")
	assert.True(t, events.has(notify.ActionMigrated))
}

func TestMigratePreservesDueDateForRecurring(t *testing.T) {
	ctx := context.Background()
	start := time.Now().Add(-24 * time.Hour).UTC()
	cronSched, err := schedule.NewCron(start, "*/5 * * * *")
	require.NoError(t, err)

	for name, sched := range map[string]schedule.Schedule{
		"interval": schedule.NewInterval(start, time.Hour),
		"cron":     cronSched,
	} {
		t.Run(name, func(t *testing.T) {
			src, dst := store.NewMemory(nil), store.NewMemory(nil)

			// Past due: saved with an explicit date the schedule alone would
			// not reproduce.
			due := time.Now().Add(-30 * time.Minute).UTC()
			srcID, err := src.Save(ctx, action.New("tick", nil, sched, ""), &due)
			require.NoError(t, err)

			m := NewActionMigrator(src, dst, nil, nil)
			dstID := m.Migrate(ctx, srcID)
			require.NotZero(t, dstID)

			got, err := dst.DateGMT(ctx, dstID)
			require.NoError(t, err)
			assert.True(t, due.Equal(got), "due date shifted across migration: source=%v destination=%v", due, got)

			claim, err := dst.StakeClaim(ctx, 10, time.Time{})
			require.NoError(t, err)
			assert.Equal(t, []int64{dstID}, claim.ActionIDs, "still due, still claimable")
		})
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	src, dst := store.NewMemory(nil), store.NewMemory(nil)
	m := NewActionMigrator(src, dst, nil, nil)

	srcID := seed(t, src, "h", time.Now().Add(time.Hour))
	require.NotZero(t, m.Migrate(ctx, srcID))
	assert.Zero(t, m.Migrate(ctx, srcID), "second pass finds nothing to move")
	assert.Equal(t, 1, dst.Len())
}

func TestMigrateMissingAction(t *testing.T) {
	src, dst := store.NewMemory(nil), store.NewMemory(nil)
	events := &sink{}
	m := NewActionMigrator(src, dst, events, nil)

	assert.Zero(t, m.Migrate(context.Background(), 99))
	assert.True(t, events.has(notify.NothingToMigrate))
	assert.Zero(t, dst.Len())
}

func TestMigratePrunesCanceledOneShot(t *testing.T) {
	ctx := context.Background()
	src, dst := store.NewMemory(nil), store.NewMemory(nil)
	events := &sink{}

	srcID := seed(t, src, "h", time.Now().Add(time.Hour))
	require.NoError(t, src.Cancel(ctx, srcID))

	m := NewActionMigrator(src, dst, events, nil)
	assert.Zero(t, m.Migrate(ctx, srcID))
	assert.Zero(t, src.Len(), "nothing worth keeping; the source row is pruned")
	assert.Zero(t, dst.Len())
	assert.True(t, events.has(notify.NothingToMigrate))
}

func TestMigratePreservesFailedStatus(t *testing.T) {
	ctx := context.Background()
	src, dst := store.NewMemory(nil), store.NewMemory(nil)

	srcID := seed(t, src, "h", time.Now().Add(-time.Hour))
	require.NoError(t, src.LogExecution(ctx, srcID))
	require.NoError(t, src.MarkFailure(ctx, srcID))
	last, err := src.LastAttemptGMT(ctx, srcID)
	require.NoError(t, err)
	require.False(t, last.IsZero())

	m := NewActionMigrator(src, dst, nil, nil)
	dstID := m.Migrate(ctx, srcID)
	require.NotZero(t, dstID)

	st, err := dst.Status(ctx, dstID)
	require.NoError(t, err)
	assert.Equal(t, action.StatusFailed, st)

	carried, err := dst.LastAttemptGMT(ctx, dstID)
	require.NoError(t, err)
	assert.True(t, last.Equal(carried), "attempt history carries across")
}

func TestMigrateCarriesLastAttemptForComplete(t *testing.T) {
	ctx := context.Background()
	src, dst := store.NewMemory(nil), store.NewMemory(nil)

	srcID := seed(t, src, "h", time.Now().Add(-time.Hour))
	require.NoError(t, src.LogExecution(ctx, srcID))
	require.NoError(t, src.MarkComplete(ctx, srcID))
	last, err := src.LastAttemptGMT(ctx, srcID)
	require.NoError(t, err)

	m := NewActionMigrator(src, dst, nil, nil)
	dstID := m.Migrate(ctx, srcID)
	require.NotZero(t, dstID)

	st, err := dst.Status(ctx, dstID)
	require.NoError(t, err)
	assert.Equal(t, action.StatusComplete, st)

	carried, err := dst.LastAttemptGMT(ctx, dstID)
	require.NoError(t, err)
	assert.True(t, last.Equal(carried))
}

func TestMigrateDestinationSaveFailure(t *testing.T) {
	ctx := context.Background()
	src, dst := store.NewMemory(nil), store.NewMemory(nil)
	events := &sink{}

	srcID := seed(t, src, "h", time.Now().Add(time.Hour))
	dst.SetSaveErr(errors.New("disk full"))

	m := NewActionMigrator(src, dst, events, nil)
	assert.Zero(t, m.Migrate(ctx, srcID))
	assert.Equal(t, 1, src.Len(), "source copy untouched, retried next batch")
	assert.True(t, events.has(notify.MigrateFailed))
}

func TestMigrateSourceDeleteFailure(t *testing.T) {
	ctx := context.Background()
	src, dst := store.NewMemory(nil), store.NewMemory(nil)
	events := &sink{}

	srcID := seed(t, src, "h", time.Now().Add(time.Hour))
	src.SetDeleteErr(errors.New("locked"))

	m := NewActionMigrator(src, dst, events, nil)
	dstID := m.Migrate(ctx, srcID)
	assert.NotZero(t, dstID, "the destination write defines success")
	assert.Equal(t, 1, dst.Len())
	assert.True(t, events.has(notify.MigrateIncomplete))
	assert.True(t, events.has(notify.ActionMigrated))
}

func TestDryRunMigratorTouchesNothing(t *testing.T) {
	events := &sink{}
	m := NewDryRunMigrator(events)
	assert.Zero(t, m.Migrate(context.Background(), 7))
	assert.Equal(t, []notify.EventType{notify.MigrateDryRun}, events.types())
}
