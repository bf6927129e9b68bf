package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/you/actionq/internal/action"
	"github.com/you/actionq/internal/notify"
	"github.com/you/actionq/internal/schedule"
)

// Postgres is the canonical claim-based action store over the optimized
// schema (actions/claims/groups tables).
type Postgres struct {
	db         *sql.DB
	notifier   notify.Notifier
	loc        *time.Location
	muteStored atomic.Bool
	now        func() time.Time
}

func NewPostgres(db *sql.DB, notifier notify.Notifier) *Postgres {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Postgres{db: db, notifier: notifier, loc: time.Local, now: time.Now}
}

// Raw is the row-level record of an action, exposed for diagnostics and
// migration tooling.
type Raw struct {
	ID               int64
	Hook             string
	Status           string
	Args             string
	Schedule         string
	Group            string
	ScheduledGMT     time.Time
	ScheduledLocal   time.Time
	Attempts         int
	LastAttemptGMT   sql.NullTime
	LastAttemptLocal sql.NullTime
	ClaimID          int64
}

func (s *Postgres) Save(ctx context.Context, a *action.Action, date *time.Time) (int64, error) {
	next, err := runDate(a, date)
	if err != nil {
		return 0, err
	}
	groupID, err := s.groupID(ctx, a.Group, true)
	if err != nil {
		return 0, errors.Wrap(err, "resolve group")
	}
	sched, err := schedule.Marshal(a.Schedule)
	if err != nil {
		return 0, errors.Wrap(err, "save action")
	}
	status := action.StatusPending
	if a.IsFinished() {
		status = action.StatusComplete
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `insert into actions
(hook, status, scheduled_date_gmt, scheduled_date_local, args, schedule, group_id)
values ($1,$2,$3,$4,$5,$6,$7) returning action_id`,
		a.Hook, string(status), next.UTC(), next.In(s.loc), a.ArgsText(), sched, groupID,
	).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "save action")
	}
	if !s.muteStored.Load() {
		s.notifier.Notify(notify.Stamp(notify.Event{Type: notify.ActionStored, ActionID: id}))
	}
	return id, nil
}

// runDate computes the due date: the explicit date wins, else the schedule's
// next run.
func runDate(a *action.Action, date *time.Time) (time.Time, error) {
	if date != nil {
		return *date, nil
	}
	next, ok := a.Schedule.Next(time.Now().UTC())
	if !ok {
		return time.Time{}, ErrInvalidSchedule
	}
	return next, nil
}

func (s *Postgres) groupID(ctx context.Context, slug string, create bool) (int64, error) {
	if slug == "" {
		return 0, nil
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `select group_id from groups where slug=$1`, slug).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if !create {
		return 0, nil
	}
	err = s.db.QueryRowContext(ctx, `insert into groups (slug) values ($1)
on conflict (slug) do update set slug=excluded.slug returning group_id`, slug).Scan(&id)
	return id, err
}

func (s *Postgres) Fetch(ctx context.Context, id int64) (*action.Action, error) {
	row := s.db.QueryRowContext(ctx, `select a.hook, a.status, a.args, a.schedule, coalesce(g.slug, '')
from actions a left join groups g on a.group_id=g.group_id where a.action_id=$1`, id)
	var hook, status, args, sched, group string
	if err := row.Scan(&hook, &status, &args, &sched, &group); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return action.Null(), nil
		}
		return nil, errors.Wrap(err, "fetch action")
	}
	st, err := action.ParseStatus(status)
	if err != nil {
		return nil, errors.Wrapf(ErrUnknownStatus, "action %d", id)
	}
	return action.FromStatus(st, hook, []byte(args), schedule.Unmarshal(sched), group), nil
}

// FetchRaw returns the row-level record, or an empty Raw when the id is
// unknown.
func (s *Postgres) FetchRaw(ctx context.Context, id int64) (Raw, error) {
	row := s.db.QueryRowContext(ctx, `select a.action_id, a.hook, a.status, a.args, a.schedule,
coalesce(g.slug, ''), a.scheduled_date_gmt, a.scheduled_date_local, a.attempts,
a.last_attempt_gmt, a.last_attempt_local, a.claim_id
from actions a left join groups g on a.group_id=g.group_id where a.action_id=$1`, id)
	var r Raw
	err := row.Scan(&r.ID, &r.Hook, &r.Status, &r.Args, &r.Schedule, &r.Group,
		&r.ScheduledGMT, &r.ScheduledLocal, &r.Attempts, &r.LastAttemptGMT, &r.LastAttemptLocal, &r.ClaimID)
	if errors.Is(err, sql.ErrNoRows) {
		return Raw{}, nil
	}
	if err != nil {
		return Raw{}, errors.Wrap(err, "fetch raw action")
	}
	return r, nil
}

func (s *Postgres) Find(ctx context.Context, hook string, f Filter) (int64, error) {
	if f.Status == "" {
		f.Status = action.StatusPending
	}
	sb := strings.Builder{}
	sb.WriteString(`select a.action_id from actions a`)
	args := []any{}
	if f.Group != "" {
		args = append(args, f.Group)
		fmt.Fprintf(&sb, ` inner join groups g on g.group_id=a.group_id and g.slug=$%d`, len(args))
	}
	args = append(args, hook)
	fmt.Fprintf(&sb, ` where a.hook=$%d`, len(args))
	if f.Args != nil {
		args = append(args, string(f.Args))
		fmt.Fprintf(&sb, ` and a.args=$%d`, len(args))
	}
	args = append(args, string(f.Status))
	fmt.Fprintf(&sb, ` and a.status=$%d`, len(args))
	if f.Status == action.StatusPending {
		// next thing to do
		sb.WriteString(` order by a.scheduled_date_gmt asc limit 1`)
	} else {
		// most recent thing that happened
		sb.WriteString(` order by a.last_attempt_gmt desc nulls last limit 1`)
	}
	var id int64
	err := s.db.QueryRowContext(ctx, sb.String(), args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "find action")
	}
	return id, nil
}

func (s *Postgres) Query(ctx context.Context, q Query) ([]int64, error) {
	sb := strings.Builder{}
	sb.WriteString(`select a.action_id from actions a left join groups g on g.group_id=a.group_id where 1=1`)
	args := []any{}
	cond := func(clause string, v any) {
		args = append(args, v)
		fmt.Fprintf(&sb, clause, len(args))
	}
	if q.Group != "" {
		cond(` and g.slug=$%d`, q.Group)
	}
	if q.Hook != "" {
		cond(` and a.hook=$%d`, q.Hook)
	}
	if q.Args != nil {
		cond(` and a.args=$%d`, string(q.Args))
	}
	if q.Status != "" {
		cond(` and a.status=$%d`, string(q.Status))
	}
	if q.Date != nil {
		args = append(args, q.Date.UTC())
		fmt.Fprintf(&sb, ` and a.scheduled_date_gmt %s $%d`, comparator(q.DateComparator), len(args))
	}
	if q.Modified != nil {
		args = append(args, q.Modified.UTC())
		fmt.Fprintf(&sb, ` and a.last_attempt_gmt %s $%d`, comparator(q.ModifiedComparator), len(args))
	}
	switch q.Claimed.mode {
	case claimAny:
		sb.WriteString(` and a.claim_id != 0`)
	case claimNone:
		sb.WriteString(` and a.claim_id = 0`)
	case claimSpecific:
		cond(` and a.claim_id = $%d`, q.Claimed.claimID)
	}
	orderby := "a.scheduled_date_gmt"
	switch q.OrderBy {
	case OrderByHook:
		orderby = "a.hook"
	case OrderByGroup:
		orderby = "g.slug"
	case OrderByModified:
		orderby = "a.last_attempt_gmt"
	}
	order := "asc"
	if q.Order == OrderDesc {
		order = "desc"
	}
	fmt.Fprintf(&sb, ` order by %s %s`, orderby, order)
	if q.Limit > 0 {
		cond(` limit $%d`, q.Limit)
		cond(` offset $%d`, q.Offset)
	}
	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, errors.Wrap(err, "query actions")
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "query actions")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func comparator(c string) string {
	switch c {
	case "!=", ">", ">=", "<", "<=", "=":
		return c
	}
	return "="
}

func (s *Postgres) StakeClaim(ctx context.Context, maxActions int, before time.Time) (*action.Claim, error) {
	claimID, err := s.generateClaimID(ctx)
	if err != nil {
		return nil, errors.Wrap(ErrClaim, err.Error())
	}
	if err := s.claimActions(ctx, claimID, maxActions, before); err != nil {
		return nil, err
	}
	ids, err := s.ActionsByClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	return &action.Claim{ID: claimID, ActionIDs: ids}, nil
}

func (s *Postgres) generateClaimID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`insert into claims (date_created_gmt) values ($1) returning claim_id`,
		s.now().UTC()).Scan(&id)
	return id, err
}

// claimActions is the one operation needing true mutual exclusion: a single
// conditional update tags unclaimed due rows, so racing workers partition the
// pool disjointly with no other locking.
func (s *Postgres) claimActions(ctx context.Context, claimID int64, limit int, before time.Time) error {
	if before.IsZero() {
		before = s.now()
	}
	now := s.now()
	_, err := s.db.ExecContext(ctx, `update actions
set claim_id=$1, last_attempt_gmt=$2, last_attempt_local=$3
where claim_id = 0 and action_id in (
  select action_id from actions
  where claim_id = 0 and status = $4 and scheduled_date_gmt <= $5
  order by attempts asc, scheduled_date_gmt asc, action_id asc
  limit $6
  for update skip locked
)`,
		claimID, now.UTC(), now.In(s.loc), string(action.StatusPending), before.UTC(), limit)
	if err != nil {
		return errors.Wrap(ErrClaim, err.Error())
	}
	return nil
}

func (s *Postgres) ReleaseClaim(ctx context.Context, c *action.Claim) error {
	if _, err := s.db.ExecContext(ctx, `update actions set claim_id = 0 where claim_id = $1`, c.ID); err != nil {
		return errors.Wrap(err, "release claim")
	}
	if _, err := s.db.ExecContext(ctx, `delete from claims where claim_id = $1`, c.ID); err != nil {
		return errors.Wrap(err, "release claim")
	}
	return nil
}

func (s *Postgres) Unclaim(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `update actions set claim_id = 0 where action_id = $1`, id)
	return errors.Wrap(err, "unclaim action")
}

func (s *Postgres) LogExecution(ctx context.Context, id int64) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `update actions
set attempts = attempts + 1, status = $1, last_attempt_gmt = $2, last_attempt_local = $3
where action_id = $4`,
		string(action.StatusRunning), now.UTC(), now.In(s.loc), id)
	if err != nil {
		return errors.Wrap(err, "log execution")
	}
	s.notifier.Notify(notify.Stamp(notify.Event{Type: notify.ExecutionStarted, ActionID: id}))
	return nil
}

func (s *Postgres) MarkComplete(ctx context.Context, id int64) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `update actions
set status = $1, last_attempt_gmt = $2, last_attempt_local = $3 where action_id = $4`,
		string(action.StatusComplete), now.UTC(), now.In(s.loc), id)
	if err != nil {
		return errors.Wrap(err, "mark complete")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrUnknownAction, "%d", id)
	}
	s.notifier.Notify(notify.Stamp(notify.Event{Type: notify.ExecutionCompleted, ActionID: id}))
	return nil
}

func (s *Postgres) MarkFailure(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `update actions set status = $1 where action_id = $2`,
		string(action.StatusFailed), id)
	if err != nil {
		return errors.Wrap(err, "mark failure")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrUnknownAction, "%d", id)
	}
	s.notifier.Notify(notify.Stamp(notify.Event{Type: notify.ExecutionFailed, ActionID: id}))
	return nil
}

func (s *Postgres) Cancel(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `update actions set status = $1 where action_id = $2`,
		string(action.StatusCanceled), id)
	if err != nil {
		return errors.Wrap(err, "cancel action")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrUnknownAction, "%d", id)
	}
	s.notifier.Notify(notify.Stamp(notify.Event{Type: notify.ActionCanceled, ActionID: id}))
	return nil
}

func (s *Postgres) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `delete from actions where action_id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete action")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrUnknownAction, "%d", id)
	}
	s.notifier.Notify(notify.Stamp(notify.Event{Type: notify.ActionDeleted, ActionID: id}))
	return nil
}

func (s *Postgres) Status(ctx context.Context, id int64) (action.Status, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `select status from actions where action_id = $1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.Wrapf(ErrUnknownAction, "%d", id)
	}
	if err != nil {
		return "", errors.Wrap(err, "get status")
	}
	st, err := action.ParseStatus(raw)
	if err != nil {
		return "", errors.Wrapf(ErrUnknownStatus, "action %d: %q", id, raw)
	}
	return st, nil
}

func (s *Postgres) Date(ctx context.Context, id int64) (time.Time, error) {
	gmt, err := s.DateGMT(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	return gmt.In(s.loc), nil
}

func (s *Postgres) DateGMT(ctx context.Context, id int64) (time.Time, error) {
	var status string
	var scheduled time.Time
	var lastAttempt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`select status, scheduled_date_gmt, last_attempt_gmt from actions where action_id = $1`, id).
		Scan(&status, &scheduled, &lastAttempt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, errors.Wrapf(ErrUnknownAction, "%d", id)
	}
	if err != nil {
		return time.Time{}, errors.Wrap(err, "get date")
	}
	// Never-attempted rows keep the scheduled date; the null sentinel would
	// otherwise surface as the zero time.
	if action.Status(status) == action.StatusPending || !lastAttempt.Valid {
		return scheduled.UTC(), nil
	}
	return lastAttempt.Time.UTC(), nil
}

func (s *Postgres) ClaimCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `select count(distinct claim_id) from actions
where claim_id != 0 and status in ($1, $2)`,
		string(action.StatusPending), string(action.StatusRunning)).Scan(&count)
	return count, errors.Wrap(err, "claim count")
}

func (s *Postgres) ActionsByClaim(ctx context.Context, claimID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`select action_id from actions where claim_id = $1 order by action_id asc`, claimID)
	if err != nil {
		return nil, errors.Wrap(err, "actions by claim")
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "actions by claim")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetLastAttempt backfills the attempt dates for a historical action. The
// normal save path leaves them at the never-attempted sentinel.
func (s *Postgres) SetLastAttempt(ctx context.Context, id int64, gmt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update actions set last_attempt_gmt = $1, last_attempt_local = $2 where action_id = $3`,
		gmt.UTC(), gmt.In(s.loc), id)
	return errors.Wrap(err, "set last attempt")
}

// SuppressStoredSignals mutes stored notifications until restore is called.
func (s *Postgres) SuppressStoredSignals() (restore func()) {
	s.muteStored.Store(true)
	return func() { s.muteStored.Store(false) }
}

// LoadMigrationStatus reads the persisted migration flag ("" when unset).
func (s *Postgres) LoadMigrationStatus(ctx context.Context) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`select value from scheduler_state where name = 'migration_status'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, errors.Wrap(err, "load migration status")
}

// SaveMigrationStatus persists the migration flag.
func (s *Postgres) SaveMigrationStatus(ctx context.Context, v string) error {
	_, err := s.db.ExecContext(ctx, `insert into scheduler_state (name, value)
values ('migration_status', $1)
on conflict (name) do update set value = excluded.value`, v)
	return errors.Wrap(err, "save migration status")
}
