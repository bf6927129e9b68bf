package schedule

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// Schedule produces the next run date for an action. A schedule with no
// remaining runs reports ok=false; actions carrying such a schedule are
// terminal.
type Schedule interface {
	// Next returns the first run date at or after the given instant. For
	// one-shot schedules the stored date is returned even when it is in the
	// past, so a saved action keeps its original due date.
	Next(after time.Time) (time.Time, bool)
	IsRecurring() bool
}

// Simple runs once at a fixed instant.
type Simple struct {
	Timestamp time.Time
}

func NewSimple(ts time.Time) Simple { return Simple{Timestamp: ts.UTC()} }

func (s Simple) Next(time.Time) (time.Time, bool) { return s.Timestamp, !s.Timestamp.IsZero() }
func (s Simple) IsRecurring() bool                { return false }

// Interval recurs every fixed duration starting from a first run date.
type Interval struct {
	Start    time.Time
	Interval time.Duration
}

func NewInterval(start time.Time, every time.Duration) Interval {
	return Interval{Start: start.UTC(), Interval: every}
}

func (s Interval) Next(after time.Time) (time.Time, bool) {
	if s.Interval <= 0 || s.Start.IsZero() {
		return time.Time{}, false
	}
	if !s.Start.Before(after) {
		return s.Start, true
	}
	elapsed := after.Sub(s.Start)
	steps := elapsed / s.Interval
	if elapsed%s.Interval != 0 {
		steps++
	}
	return s.Start.Add(steps * s.Interval), true
}

func (s Interval) IsRecurring() bool { return true }

// Cron recurs on a standard five-field cron expression.
type Cron struct {
	Start      time.Time
	Expression string

	spec cron.Schedule
}

func NewCron(start time.Time, expression string) (Cron, error) {
	spec, err := cron.ParseStandard(expression)
	if err != nil {
		return Cron{}, errors.Wrapf(err, "parse cron expression %q", expression)
	}
	return Cron{Start: start.UTC(), Expression: expression, spec: spec}, nil
}

func (s Cron) Next(after time.Time) (time.Time, bool) {
	if s.spec == nil {
		parsed, err := cron.ParseStandard(s.Expression)
		if err != nil {
			return time.Time{}, false
		}
		s.spec = parsed
	}
	if after.Before(s.Start) {
		after = s.Start
	}
	return s.spec.Next(after).UTC(), true
}

func (s Cron) IsRecurring() bool { return true }

// Null is the terminal marker: no runs remain, or the stored schedule could
// not be decoded.
type Null struct{}

func (Null) Next(time.Time) (time.Time, bool) { return time.Time{}, false }
func (Null) IsRecurring() bool                { return false }

const (
	typeSimple   = "simple"
	typeInterval = "interval"
	typeCron     = "cron"
	typeNull     = "null"
)

type envelope struct {
	Type       string     `json:"type"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	Start      *time.Time `json:"start,omitempty"`
	Interval   int64      `json:"interval_seconds,omitempty"`
	Expression string     `json:"expression,omitempty"`
}

// Marshal encodes a schedule into its persisted form.
func Marshal(s Schedule) (string, error) {
	var e envelope
	switch v := s.(type) {
	case Simple:
		e = envelope{Type: typeSimple, Timestamp: &v.Timestamp}
	case Interval:
		e = envelope{Type: typeInterval, Start: &v.Start, Interval: int64(v.Interval / time.Second)}
	case Cron:
		e = envelope{Type: typeCron, Start: &v.Start, Expression: v.Expression}
	case Null, nil:
		e = envelope{Type: typeNull}
	default:
		return "", errors.Errorf("unknown schedule type %T", s)
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return "", errors.Wrap(err, "marshal schedule")
	}
	return string(raw), nil
}

// Unmarshal decodes a persisted schedule. Anything unreadable decodes to the
// null schedule rather than an error, so corrupt rows surface as terminal
// actions instead of hard failures.
func Unmarshal(raw string) Schedule {
	if raw == "" {
		return Null{}
	}
	var e envelope
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Null{}
	}
	switch e.Type {
	case typeSimple:
		if e.Timestamp == nil {
			return Null{}
		}
		return NewSimple(*e.Timestamp)
	case typeInterval:
		if e.Start == nil {
			return Null{}
		}
		return NewInterval(*e.Start, time.Duration(e.Interval)*time.Second)
	case typeCron:
		if e.Start == nil {
			return Null{}
		}
		c, err := NewCron(*e.Start, e.Expression)
		if err != nil {
			return Null{}
		}
		return c
	default:
		return Null{}
	}
}
