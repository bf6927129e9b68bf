package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/you/actionq/internal/action"
)

// Typed failures surfaced to callers. Wrapped errors carry operation context;
// branch with errors.Is.
var (
	ErrUnknownAction   = errors.New("unknown action")
	ErrUnknownStatus   = errors.New("unknown action status")
	ErrInvalidSchedule = errors.New("invalid schedule, cannot compute run date")
	ErrClaim           = errors.New("unable to claim actions")
)

// Filter narrows a Find lookup. A nil Args means "any arguments"; a non-nil
// Args matches by exact serialized equality. Status defaults to pending.
type Filter struct {
	Args   json.RawMessage
	Status action.Status
	Group  string
}

// ClaimFilter is the tri-state-plus-id claim predicate for Query.
type ClaimFilter struct {
	mode    int
	claimID int64
}

const (
	claimAny = iota + 1
	claimNone
	claimSpecific
)

// Claimed matches actions tagged with any claim.
func Claimed() ClaimFilter { return ClaimFilter{mode: claimAny} }

// Unclaimed matches actions with no claim.
func Unclaimed() ClaimFilter { return ClaimFilter{mode: claimNone} }

// ByClaim matches actions tagged with one specific claim.
func ByClaim(id int64) ClaimFilter { return ClaimFilter{mode: claimSpecific, claimID: id} }

func (f ClaimFilter) isSet() bool { return f.mode != 0 }

type OrderBy string

const (
	OrderByDate     OrderBy = "date"
	OrderByHook     OrderBy = "hook"
	OrderByGroup    OrderBy = "group"
	OrderByModified OrderBy = "modified"
)

type Order string

const (
	OrderAsc  Order = "ASC"
	OrderDesc Order = "DESC"
)

// Query selects an ordered page of action ids. The zero value matches
// everything: Limit 0 means unlimited, empty OrderBy sorts by date ascending.
type Query struct {
	Hook               string
	Args               json.RawMessage
	Date               *time.Time
	DateComparator     string
	Modified           *time.Time
	ModifiedComparator string
	Group              string
	Status             action.Status
	Claimed            ClaimFilter
	OrderBy            OrderBy
	Order              Order
	Offset             int
	Limit              int
}

// Store is the persistence contract for scheduled actions. Implementations
// push all mutual exclusion down to atomic conditional statements against the
// backing store; StakeClaim is the only operation that requires it.
type Store interface {
	// Save persists the action and returns its new id. The due date comes
	// from the explicit date when given, else from the action's schedule;
	// ErrInvalidSchedule when neither yields a date. Initial status is
	// complete for finished actions, pending otherwise.
	Save(ctx context.Context, a *action.Action, date *time.Time) (int64, error)

	// Fetch returns the action, or the null action when the id is unknown.
	Fetch(ctx context.Context, id int64) (*action.Action, error)

	// Find returns the id of the best match for the hook, or 0 when none
	// exists. Pending lookups return the earliest-due match; any other status
	// returns the most recently attempted one.
	Find(ctx context.Context, hook string, f Filter) (int64, error)

	Query(ctx context.Context, q Query) ([]int64, error)

	// StakeClaim atomically tags up to maxActions due, unclaimed, pending
	// actions with a fresh claim, preferring least-retried then earliest-due.
	// Concurrent callers receive disjoint sets.
	StakeClaim(ctx context.Context, maxActions int, before time.Time) (*action.Claim, error)

	// ReleaseClaim clears the claim reference on every action still tagged
	// and removes the claim record.
	ReleaseClaim(ctx context.Context, c *action.Claim) error

	// Unclaim clears a single action's claim reference.
	Unclaim(ctx context.Context, id int64) error

	// LogExecution records the start of an attempt: increments the attempt
	// count, stamps the attempt dates and moves the action to in-progress.
	LogExecution(ctx context.Context, id int64) error

	MarkComplete(ctx context.Context, id int64) error
	MarkFailure(ctx context.Context, id int64) error
	Cancel(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error

	Status(ctx context.Context, id int64) (action.Status, error)

	// Date returns the scheduled date while pending or never attempted, else
	// the last attempt date, in local time. DateGMT is the normalized
	// equivalent.
	Date(ctx context.Context, id int64) (time.Time, error)
	DateGMT(ctx context.Context, id int64) (time.Time, error)

	ClaimCount(ctx context.Context) (int, error)
	ActionsByClaim(ctx context.Context, claimID int64) ([]int64, error)
}

// LastAttemptReporter is implemented by source stores that hold an
// authoritative last-attempt date for finished actions. The migrator applies
// the correction only when the source opts in through this interface.
type LastAttemptReporter interface {
	LastAttemptGMT(ctx context.Context, id int64) (time.Time, error)
}

// LastAttemptSetter is implemented by destination stores whose natural save
// path cannot carry a historical last-attempt date.
type LastAttemptSetter interface {
	SetLastAttempt(ctx context.Context, id int64, gmt time.Time) error
}

// StoredSuppressor mutes "action stored" notifications for the duration of a
// migration batch so migrated rows are not double-logged as newly created.
type StoredSuppressor interface {
	SuppressStoredSignals() (restore func())
}

// Migrator moves the given source-store actions into the canonical store. The
// hybrid facade depends on this seam rather than on the migration engine.
type Migrator interface {
	MigrateActions(ctx context.Context, ids []int64)
}
