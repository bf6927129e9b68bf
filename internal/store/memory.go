package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/you/actionq/internal/action"
	"github.com/you/actionq/internal/notify"
	"github.com/you/actionq/internal/schedule"
)

type memAction struct {
	id           int64
	hook         string
	status       action.Status
	args         string
	schedule     string
	group        string
	scheduledGMT time.Time
	attempts     int
	lastGMT      time.Time
	claimID      int64
}

// Memory implements the full Store contract in process. It backs the test
// suite (the claim and migration semantics are exercised against it without a
// live database) and is not intended for production use.
type Memory struct {
	mu              sync.Mutex
	notifier        notify.Notifier
	muteStored      bool
	nextID          int64
	nextClaimID     int64
	actions         map[int64]*memAction
	claims          map[int64]time.Time
	migrationStatus string
	saveErr         error
	deleteErr       error
	now             func() time.Time
}

func NewMemory(notifier notify.Notifier) *Memory {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Memory{
		notifier: notifier,
		actions:  map[int64]*memAction{},
		claims:   map[int64]time.Time{},
		now:      time.Now,
	}
}

// SetSaveErr forces subsequent saves to fail; SetDeleteErr likewise for
// deletes. Both exist for failure-path tests.
func (s *Memory) SetSaveErr(err error) { s.mu.Lock(); s.saveErr = err; s.mu.Unlock() }

func (s *Memory) SetDeleteErr(err error) { s.mu.Lock(); s.deleteErr = err; s.mu.Unlock() }

// Len reports the number of stored actions.
func (s *Memory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions)
}

func (s *Memory) Save(_ context.Context, a *action.Action, date *time.Time) (int64, error) {
	next, err := runDate(a, date)
	if err != nil {
		return 0, err
	}
	sched, err := schedule.Marshal(a.Schedule)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	if s.saveErr != nil {
		err := s.saveErr
		s.mu.Unlock()
		return 0, err
	}
	s.nextID++
	id := s.nextID
	status := action.StatusPending
	if a.IsFinished() {
		status = action.StatusComplete
	}
	s.actions[id] = &memAction{
		id:           id,
		hook:         a.Hook,
		status:       status,
		args:         a.ArgsText(),
		schedule:     sched,
		group:        a.Group,
		scheduledGMT: next.UTC(),
	}
	mute := s.muteStored
	s.mu.Unlock()
	if !mute {
		s.notifier.Notify(notify.Stamp(notify.Event{Type: notify.ActionStored, ActionID: id}))
	}
	return id, nil
}

func (s *Memory) Fetch(_ context.Context, id int64) (*action.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.actions[id]
	if !ok {
		return action.Null(), nil
	}
	return action.FromStatus(rec.status, rec.hook, []byte(rec.args), schedule.Unmarshal(rec.schedule), rec.group), nil
}

func (s *Memory) Find(_ context.Context, hook string, f Filter) (int64, error) {
	if f.Status == "" {
		f.Status = action.StatusPending
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *memAction
	for _, rec := range s.actions {
		if rec.hook != hook || rec.status != f.Status {
			continue
		}
		if f.Group != "" && rec.group != f.Group {
			continue
		}
		if f.Args != nil && rec.args != string(f.Args) {
			continue
		}
		if best == nil {
			best = rec
			continue
		}
		if f.Status == action.StatusPending {
			if rec.scheduledGMT.Before(best.scheduledGMT) {
				best = rec
			}
		} else if rec.lastGMT.After(best.lastGMT) {
			best = rec
		}
	}
	if best == nil {
		return 0, nil
	}
	return best.id, nil
}

func (s *Memory) Query(_ context.Context, q Query) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*memAction
	for _, rec := range s.actions {
		if q.Hook != "" && rec.hook != q.Hook {
			continue
		}
		if q.Group != "" && rec.group != q.Group {
			continue
		}
		if q.Args != nil && rec.args != string(q.Args) {
			continue
		}
		if q.Status != "" && rec.status != q.Status {
			continue
		}
		if q.Date != nil && !compareTime(rec.scheduledGMT, comparator(q.DateComparator), q.Date.UTC()) {
			continue
		}
		if q.Modified != nil && !compareTime(rec.lastGMT, comparator(q.ModifiedComparator), q.Modified.UTC()) {
			continue
		}
		switch q.Claimed.mode {
		case claimAny:
			if rec.claimID == 0 {
				continue
			}
		case claimNone:
			if rec.claimID != 0 {
				continue
			}
		case claimSpecific:
			if rec.claimID != q.Claimed.claimID {
				continue
			}
		}
		matched = append(matched, rec)
	}
	desc := q.Order == OrderDesc
	sort.SliceStable(matched, func(i, j int) bool {
		less := func() bool {
			a, b := matched[i], matched[j]
			switch q.OrderBy {
			case OrderByHook:
				if a.hook != b.hook {
					return a.hook < b.hook
				}
			case OrderByGroup:
				if a.group != b.group {
					return strings.Compare(a.group, b.group) < 0
				}
			case OrderByModified:
				if !a.lastGMT.Equal(b.lastGMT) {
					return a.lastGMT.Before(b.lastGMT)
				}
			default:
				if !a.scheduledGMT.Equal(b.scheduledGMT) {
					return a.scheduledGMT.Before(b.scheduledGMT)
				}
			}
			return a.id < b.id
		}()
		if desc {
			return !less
		}
		return less
	})
	ids := make([]int64, 0, len(matched))
	for _, rec := range matched {
		ids = append(ids, rec.id)
	}
	if q.Offset > 0 {
		if q.Offset >= len(ids) {
			ids = nil
		} else {
			ids = ids[q.Offset:]
		}
	}
	if q.Limit > 0 && len(ids) > q.Limit {
		ids = ids[:q.Limit]
	}
	return ids, nil
}

func compareTime(a time.Time, comp string, b time.Time) bool {
	switch comp {
	case "!=":
		return !a.Equal(b)
	case ">":
		return a.After(b)
	case ">=":
		return !a.Before(b)
	case "<":
		return a.Before(b)
	case "<=":
		return !a.After(b)
	default:
		return a.Equal(b)
	}
}

func (s *Memory) StakeClaim(_ context.Context, maxActions int, before time.Time) (*action.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if before.IsZero() {
		before = s.now()
	}
	s.nextClaimID++
	claimID := s.nextClaimID
	s.claims[claimID] = s.now().UTC()

	var pool []*memAction
	for _, rec := range s.actions {
		if rec.claimID == 0 && rec.status == action.StatusPending && !rec.scheduledGMT.After(before.UTC()) {
			pool = append(pool, rec)
		}
	}
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].attempts != pool[j].attempts {
			return pool[i].attempts < pool[j].attempts
		}
		if !pool[i].scheduledGMT.Equal(pool[j].scheduledGMT) {
			return pool[i].scheduledGMT.Before(pool[j].scheduledGMT)
		}
		return pool[i].id < pool[j].id
	})
	if len(pool) > maxActions {
		pool = pool[:maxActions]
	}
	now := s.now().UTC()
	ids := make([]int64, 0, len(pool))
	for _, rec := range pool {
		rec.claimID = claimID
		rec.lastGMT = now
		ids = append(ids, rec.id)
	}
	return &action.Claim{ID: claimID, ActionIDs: ids}, nil
}

func (s *Memory) ReleaseClaim(_ context.Context, c *action.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.actions {
		if rec.claimID == c.ID {
			rec.claimID = 0
		}
	}
	delete(s.claims, c.ID)
	return nil
}

func (s *Memory) Unclaim(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.actions[id]; ok {
		rec.claimID = 0
	}
	return nil
}

func (s *Memory) LogExecution(_ context.Context, id int64) error {
	s.mu.Lock()
	rec, ok := s.actions[id]
	if ok {
		rec.attempts++
		rec.status = action.StatusRunning
		rec.lastGMT = s.now().UTC()
	}
	s.mu.Unlock()
	if ok {
		s.notifier.Notify(notify.Stamp(notify.Event{Type: notify.ExecutionStarted, ActionID: id}))
	}
	return nil
}

func (s *Memory) MarkComplete(_ context.Context, id int64) error {
	s.mu.Lock()
	rec, ok := s.actions[id]
	if ok {
		rec.status = action.StatusComplete
		rec.lastGMT = s.now().UTC()
	}
	s.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrUnknownAction, "%d", id)
	}
	s.notifier.Notify(notify.Stamp(notify.Event{Type: notify.ExecutionCompleted, ActionID: id}))
	return nil
}

func (s *Memory) MarkFailure(_ context.Context, id int64) error {
	s.mu.Lock()
	rec, ok := s.actions[id]
	if ok {
		rec.status = action.StatusFailed
	}
	s.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrUnknownAction, "%d", id)
	}
	s.notifier.Notify(notify.Stamp(notify.Event{Type: notify.ExecutionFailed, ActionID: id}))
	return nil
}

func (s *Memory) Cancel(_ context.Context, id int64) error {
	s.mu.Lock()
	rec, ok := s.actions[id]
	if ok {
		rec.status = action.StatusCanceled
	}
	s.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrUnknownAction, "%d", id)
	}
	s.notifier.Notify(notify.Stamp(notify.Event{Type: notify.ActionCanceled, ActionID: id}))
	return nil
}

func (s *Memory) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	if s.deleteErr != nil {
		err := s.deleteErr
		s.mu.Unlock()
		return err
	}
	_, ok := s.actions[id]
	delete(s.actions, id)
	s.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrUnknownAction, "%d", id)
	}
	s.notifier.Notify(notify.Stamp(notify.Event{Type: notify.ActionDeleted, ActionID: id}))
	return nil
}

func (s *Memory) Status(_ context.Context, id int64) (action.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.actions[id]
	if !ok {
		return "", errors.Wrapf(ErrUnknownAction, "%d", id)
	}
	return rec.status, nil
}

func (s *Memory) Date(ctx context.Context, id int64) (time.Time, error) {
	gmt, err := s.DateGMT(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	return gmt.In(time.Local), nil
}

func (s *Memory) DateGMT(_ context.Context, id int64) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.actions[id]
	if !ok {
		return time.Time{}, errors.Wrapf(ErrUnknownAction, "%d", id)
	}
	if rec.status == action.StatusPending || rec.lastGMT.IsZero() {
		return rec.scheduledGMT, nil
	}
	return rec.lastGMT, nil
}

func (s *Memory) ClaimCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[int64]struct{}{}
	for _, rec := range s.actions {
		if rec.claimID != 0 && (rec.status == action.StatusPending || rec.status == action.StatusRunning) {
			seen[rec.claimID] = struct{}{}
		}
	}
	return len(seen), nil
}

func (s *Memory) ActionsByClaim(_ context.Context, claimID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for _, rec := range s.actions {
		if rec.claimID == claimID {
			ids = append(ids, rec.id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Memory) LastAttemptGMT(_ context.Context, id int64) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.actions[id]
	if !ok {
		return time.Time{}, errors.Wrapf(ErrUnknownAction, "%d", id)
	}
	return rec.lastGMT, nil
}

func (s *Memory) SetLastAttempt(_ context.Context, id int64, gmt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.actions[id]
	if !ok {
		return errors.Wrapf(ErrUnknownAction, "%d", id)
	}
	rec.lastGMT = gmt.UTC()
	return nil
}

func (s *Memory) SuppressStoredSignals() (restore func()) {
	s.mu.Lock()
	s.muteStored = true
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.muteStored = false
		s.mu.Unlock()
	}
}

func (s *Memory) LoadMigrationStatus(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.migrationStatus, nil
}

func (s *Memory) SaveMigrationStatus(_ context.Context, v string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.migrationStatus = v
	return nil
}
