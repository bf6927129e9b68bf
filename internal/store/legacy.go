package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/you/actionq/internal/action"
	"github.com/you/actionq/internal/schedule"
)

// Legacy is the source-side store over the old denormalized schema: one table
// with the group slug inline and no claims table (claim ids come from a
// sequence). It exists only to be drained by the migration engine and read
// through the hybrid facade.
type Legacy struct {
	db  *sql.DB
	loc *time.Location
	now func() time.Time
}

func NewLegacy(db *sql.DB) *Legacy {
	return &Legacy{db: db, loc: time.Local, now: time.Now}
}

func (s *Legacy) Save(ctx context.Context, a *action.Action, date *time.Time) (int64, error) {
	next, err := runDate(a, date)
	if err != nil {
		return 0, err
	}
	sched, err := schedule.Marshal(a.Schedule)
	if err != nil {
		return 0, errors.Wrap(err, "save legacy action")
	}
	status := action.StatusPending
	if a.IsFinished() {
		status = action.StatusComplete
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `insert into legacy_actions
(hook, status, args, schedule, group_slug, scheduled_date_gmt, scheduled_date_local)
values ($1,$2,$3,$4,$5,$6,$7) returning action_id`,
		a.Hook, string(status), a.ArgsText(), sched, a.Group, next.UTC(), next.In(s.loc),
	).Scan(&id)
	return id, errors.Wrap(err, "save legacy action")
}

func (s *Legacy) Fetch(ctx context.Context, id int64) (*action.Action, error) {
	var hook, status, args, sched, group string
	err := s.db.QueryRowContext(ctx, `select hook, status, args, schedule, group_slug
from legacy_actions where action_id=$1`, id).Scan(&hook, &status, &args, &sched, &group)
	if errors.Is(err, sql.ErrNoRows) {
		return action.Null(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "fetch legacy action")
	}
	st, err := action.ParseStatus(status)
	if err != nil {
		return nil, errors.Wrapf(ErrUnknownStatus, "legacy action %d", id)
	}
	return action.FromStatus(st, hook, []byte(args), schedule.Unmarshal(sched), group), nil
}

func (s *Legacy) Find(ctx context.Context, hook string, f Filter) (int64, error) {
	if f.Status == "" {
		f.Status = action.StatusPending
	}
	sb := strings.Builder{}
	sb.WriteString(`select action_id from legacy_actions where hook=$1`)
	args := []any{hook}
	if f.Group != "" {
		args = append(args, f.Group)
		fmt.Fprintf(&sb, ` and group_slug=$%d`, len(args))
	}
	if f.Args != nil {
		args = append(args, string(f.Args))
		fmt.Fprintf(&sb, ` and args=$%d`, len(args))
	}
	args = append(args, string(f.Status))
	fmt.Fprintf(&sb, ` and status=$%d`, len(args))
	if f.Status == action.StatusPending {
		sb.WriteString(` order by scheduled_date_gmt asc limit 1`)
	} else {
		sb.WriteString(` order by last_attempt_gmt desc nulls last limit 1`)
	}
	var id int64
	err := s.db.QueryRowContext(ctx, sb.String(), args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "find legacy action")
	}
	return id, nil
}

func (s *Legacy) Query(ctx context.Context, q Query) ([]int64, error) {
	sb := strings.Builder{}
	sb.WriteString(`select action_id from legacy_actions where 1=1`)
	args := []any{}
	cond := func(clause string, v any) {
		args = append(args, v)
		fmt.Fprintf(&sb, clause, len(args))
	}
	if q.Group != "" {
		cond(` and group_slug=$%d`, q.Group)
	}
	if q.Hook != "" {
		cond(` and hook=$%d`, q.Hook)
	}
	if q.Args != nil {
		cond(` and args=$%d`, string(q.Args))
	}
	if q.Status != "" {
		cond(` and status=$%d`, string(q.Status))
	}
	if q.Date != nil {
		args = append(args, q.Date.UTC())
		fmt.Fprintf(&sb, ` and scheduled_date_gmt %s $%d`, comparator(q.DateComparator), len(args))
	}
	if q.Modified != nil {
		args = append(args, q.Modified.UTC())
		fmt.Fprintf(&sb, ` and last_attempt_gmt %s $%d`, comparator(q.ModifiedComparator), len(args))
	}
	switch q.Claimed.mode {
	case claimAny:
		sb.WriteString(` and claim_id != 0`)
	case claimNone:
		sb.WriteString(` and claim_id = 0`)
	case claimSpecific:
		cond(` and claim_id = $%d`, q.Claimed.claimID)
	}
	orderby := "scheduled_date_gmt"
	switch q.OrderBy {
	case OrderByHook:
		orderby = "hook"
	case OrderByGroup:
		orderby = "group_slug"
	case OrderByModified:
		orderby = "last_attempt_gmt"
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
		return nil, errors.Wrap(err, "query legacy actions")
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "query legacy actions")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Legacy) StakeClaim(ctx context.Context, maxActions int, before time.Time) (*action.Claim, error) {
	var claimID int64
	if err := s.db.QueryRowContext(ctx, `select nextval('legacy_claim_seq')`).Scan(&claimID); err != nil {
		return nil, errors.Wrap(ErrClaim, err.Error())
	}
	if before.IsZero() {
		before = s.now()
	}
	now := s.now()
	_, err := s.db.ExecContext(ctx, `update legacy_actions
set claim_id=$1, last_attempt_gmt=$2, last_attempt_local=$3
where claim_id = 0 and action_id in (
  select action_id from legacy_actions
  where claim_id = 0 and status = $4 and scheduled_date_gmt <= $5
  order by attempts asc, scheduled_date_gmt asc, action_id asc
  limit $6
  for update skip locked
)`,
		claimID, now.UTC(), now.In(s.loc), string(action.StatusPending), before.UTC(), maxActions)
	if err != nil {
		return nil, errors.Wrap(ErrClaim, err.Error())
	}
	ids, err := s.ActionsByClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	return &action.Claim{ID: claimID, ActionIDs: ids}, nil
}

func (s *Legacy) ReleaseClaim(ctx context.Context, c *action.Claim) error {
	_, err := s.db.ExecContext(ctx, `update legacy_actions set claim_id = 0 where claim_id = $1`, c.ID)
	return errors.Wrap(err, "release legacy claim")
}

func (s *Legacy) Unclaim(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `update legacy_actions set claim_id = 0 where action_id = $1`, id)
	return errors.Wrap(err, "unclaim legacy action")
}

func (s *Legacy) LogExecution(ctx context.Context, id int64) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `update legacy_actions
set attempts = attempts + 1, status = $1, last_attempt_gmt = $2, last_attempt_local = $3
where action_id = $4`,
		string(action.StatusRunning), now.UTC(), now.In(s.loc), id)
	return errors.Wrap(err, "log legacy execution")
}

func (s *Legacy) MarkComplete(ctx context.Context, id int64) error {
	now := s.now()
	return s.expectOne(ctx, id, `update legacy_actions
set status = $1, last_attempt_gmt = $2, last_attempt_local = $3 where action_id = $4`,
		string(action.StatusComplete), now.UTC(), now.In(s.loc), id)
}

func (s *Legacy) MarkFailure(ctx context.Context, id int64) error {
	return s.expectOne(ctx, id, `update legacy_actions set status = $1 where action_id = $2`,
		string(action.StatusFailed), id)
}

func (s *Legacy) Cancel(ctx context.Context, id int64) error {
	return s.expectOne(ctx, id, `update legacy_actions set status = $1 where action_id = $2`,
		string(action.StatusCanceled), id)
}

func (s *Legacy) Delete(ctx context.Context, id int64) error {
	return s.expectOne(ctx, id, `delete from legacy_actions where action_id = $1`, id)
}

func (s *Legacy) expectOne(ctx context.Context, id int64, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "legacy store")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrUnknownAction, "%d", id)
	}
	return nil
}

func (s *Legacy) Status(ctx context.Context, id int64) (action.Status, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `select status from legacy_actions where action_id = $1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.Wrapf(ErrUnknownAction, "%d", id)
	}
	if err != nil {
		return "", errors.Wrap(err, "get legacy status")
	}
	st, err := action.ParseStatus(raw)
	if err != nil {
		return "", errors.Wrapf(ErrUnknownStatus, "legacy action %d: %q", id, raw)
	}
	return st, nil
}

func (s *Legacy) Date(ctx context.Context, id int64) (time.Time, error) {
	gmt, err := s.DateGMT(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	return gmt.In(s.loc), nil
}

func (s *Legacy) DateGMT(ctx context.Context, id int64) (time.Time, error) {
	var status string
	var scheduled time.Time
	var lastAttempt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`select status, scheduled_date_gmt, last_attempt_gmt from legacy_actions where action_id = $1`, id).
		Scan(&status, &scheduled, &lastAttempt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, errors.Wrapf(ErrUnknownAction, "%d", id)
	}
	if err != nil {
		return time.Time{}, errors.Wrap(err, "get legacy date")
	}
	if action.Status(status) == action.StatusPending || !lastAttempt.Valid {
		return scheduled.UTC(), nil
	}
	return lastAttempt.Time.UTC(), nil
}

func (s *Legacy) ClaimCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `select count(distinct claim_id) from legacy_actions
where claim_id != 0 and status in ($1, $2)`,
		string(action.StatusPending), string(action.StatusRunning)).Scan(&count)
	return count, errors.Wrap(err, "legacy claim count")
}

func (s *Legacy) ActionsByClaim(ctx context.Context, claimID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`select action_id from legacy_actions where claim_id = $1 order by action_id asc`, claimID)
	if err != nil {
		return nil, errors.Wrap(err, "legacy actions by claim")
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "legacy actions by claim")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LastAttemptGMT reports the authoritative last-attempt date so the migrator
// can carry it across for finished actions.
func (s *Legacy) LastAttemptGMT(ctx context.Context, id int64) (time.Time, error) {
	var lastAttempt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`select last_attempt_gmt from legacy_actions where action_id = $1`, id).Scan(&lastAttempt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, errors.Wrapf(ErrUnknownAction, "%d", id)
	}
	if err != nil {
		return time.Time{}, errors.Wrap(err, "legacy last attempt")
	}
	return lastAttempt.Time.UTC(), nil
}
