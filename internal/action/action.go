package action

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/you/actionq/internal/schedule"
)

// Status is the persisted lifecycle state of an action.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "in-progress"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// Terminal reports whether no further claims or attempts occur.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCanceled
}

// ParseStatus validates a stored status value.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusPending, StatusRunning, StatusComplete, StatusFailed, StatusCanceled:
		return Status(raw), nil
	default:
		return "", errors.Errorf("unrecognized status %q", raw)
	}
}

// Kind is the lifecycle variant of an in-memory action, decided once from the
// row's status and never re-derived downstream.
type Kind int

const (
	KindNull Kind = iota
	KindPending
	KindCanceled
	KindFinished
)

// Action is one schedulable unit of work.
type Action struct {
	Hook     string
	Args     json.RawMessage
	Schedule schedule.Schedule
	Group    string
	Kind     Kind
}

// New builds a pending action.
func New(hook string, args json.RawMessage, s schedule.Schedule, group string) *Action {
	if s == nil {
		s = schedule.Null{}
	}
	return &Action{Hook: hook, Args: normalizeArgs(args), Schedule: s, Group: group, Kind: KindPending}
}

// NewFinished builds an action that has already run to completion.
func NewFinished(hook string, args json.RawMessage, s schedule.Schedule, group string) *Action {
	a := New(hook, args, s, group)
	a.Kind = KindFinished
	return a
}

// Null is the distinguished "no such action" value returned on missing
// lookups so callers can branch without error handling.
func Null() *Action {
	return &Action{Schedule: schedule.Null{}, Kind: KindNull}
}

// FromStatus materializes the lifecycle variant matching a stored row. A
// canceled row decodes with the null schedule, so one-shot cancellations read
// as having no remaining runs.
func FromStatus(status Status, hook string, args json.RawMessage, s schedule.Schedule, group string) *Action {
	switch status {
	case StatusCanceled:
		a := New(hook, args, schedule.Null{}, group)
		a.Kind = KindCanceled
		return a
	case StatusPending, StatusRunning:
		return New(hook, args, s, group)
	default:
		return NewFinished(hook, args, s, group)
	}
}

func (a *Action) IsNull() bool     { return a == nil || a.Kind == KindNull }
func (a *Action) IsFinished() bool { return a.Kind == KindFinished }

// ArgsText is the serialized argument payload. Equality of actions for lookup
// purposes is exact byte equality of this value.
func (a *Action) ArgsText() string { return string(normalizeArgs(a.Args)) }

func normalizeArgs(args json.RawMessage) json.RawMessage {
	if len(args) == 0 {
		return json.RawMessage("[]")
	}
	return args
}

// Claim is one worker's reservation of a batch of due actions.
type Claim struct {
	ID        int64
	ActionIDs []int64
}
