package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestStamp(t *testing.T) {
	e := Stamp(Event{Type: ActionStored})
	assert.False(t, e.At.IsZero())

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e = Stamp(Event{Type: ActionStored, At: at})
	assert.True(t, at.Equal(e.At), "an explicit timestamp is kept")
}

func TestMultiFansOut(t *testing.T) {
	var a, b []Event
	m := Multi{
		notifierFunc(func(e Event) { a = append(a, e) }),
		notifierFunc(func(e Event) { b = append(b, e) }),
	}
	m.Notify(Event{Type: ActionCanceled, ActionID: 3})
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0], b[0])
}

type notifierFunc func(Event)

func (f notifierFunc) Notify(e Event) { f(e) }

func TestZapNotifierFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewZap(zap.New(core))

	n.Notify(Event{Type: ActionMigrated, ActionID: 4, DestinationID: 9, RunID: "r1"})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "scheduler event", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, string(ActionMigrated), fields["event"])
	assert.EqualValues(t, 4, fields["action_id"])
	assert.EqualValues(t, 9, fields["destination_id"])
	assert.Equal(t, "r1", fields["run_id"])
}

func TestNopSwallowsEverything(t *testing.T) {
	assert.NotPanics(t, func() { Nop{}.Notify(Event{Type: ExecutionFailed}) })
}
