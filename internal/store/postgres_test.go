package store

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/actionq/internal/action"
	"github.com/you/actionq/internal/schedule"
)

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewPostgres(db, nil), mock
}

func TestPostgresSave(t *testing.T) {
	s, mock := newMockStore(t)
	due := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`select group_id from groups`).
		WithArgs("mail").
		WillReturnRows(sqlmock.NewRows([]string{"group_id"}).AddRow(int64(3)))
	mock.ExpectQuery(`insert into actions`).
		WithArgs("send_email", "pending", sqlmock.AnyArg(), sqlmock.AnyArg(), `["alice"]`, sqlmock.AnyArg(), int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"action_id"}).AddRow(int64(7)))

	id, err := s.Save(context.Background(), action.New("send_email", []byte(`["alice"]`), schedule.NewSimple(due), "mail"), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
}

func TestPostgresSaveCreatesGroup(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`select group_id from groups`).
		WithArgs("new-group").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(`insert into groups (slug) values ($1)`)).
		WithArgs("new-group").
		WillReturnRows(sqlmock.NewRows([]string{"group_id"}).AddRow(int64(9)))
	mock.ExpectQuery(`insert into actions`).
		WillReturnRows(sqlmock.NewRows([]string{"action_id"}).AddRow(int64(1)))

	_, err := s.Save(context.Background(), action.New("h", nil, schedule.NewSimple(time.Now()), "new-group"), nil)
	require.NoError(t, err)
}

func TestPostgresSaveInvalidSchedule(t *testing.T) {
	s, _ := newMockStore(t)
	_, err := s.Save(context.Background(), action.New("h", nil, schedule.Null{}, ""), nil)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestPostgresFetchUnknownIsNull(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`select a.hook`).WithArgs(int64(42)).WillReturnError(sql.ErrNoRows)

	a, err := s.Fetch(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, a.IsNull())
}

func TestPostgresFindPendingOrdersByDueDate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`order by a.scheduled_date_gmt asc limit 1`).
		WithArgs("h", "pending").
		WillReturnRows(sqlmock.NewRows([]string{"action_id"}).AddRow(int64(5)))

	id, err := s.Find(context.Background(), "h", Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)
}

func TestPostgresFindFinishedOrdersByLastAttempt(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`order by a.last_attempt_gmt desc nulls last limit 1`).
		WithArgs("h", `[]`, "complete").
		WillReturnError(sql.ErrNoRows)

	id, err := s.Find(context.Background(), "h", Filter{Status: action.StatusComplete, Args: []byte(`[]`)})
	require.NoError(t, err)
	assert.Zero(t, id, "no match resolves to zero, not an error")
}

func TestPostgresStakeClaim(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	mock.ExpectQuery(`insert into claims`).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"claim_id"}).AddRow(int64(11)))
	mock.ExpectExec(`for update skip locked`).
		WithArgs(int64(11), now, now.In(s.loc), "pending", now, 3).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(`select action_id from actions where claim_id`).
		WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"action_id"}).AddRow(int64(1)).AddRow(int64(2)))

	c, err := s.StakeClaim(context.Background(), 3, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(11), c.ID)
	assert.Equal(t, []int64{1, 2}, c.ActionIDs)
}

func TestPostgresStakeClaimFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`insert into claims`).WillReturnError(sql.ErrConnDone)

	_, err := s.StakeClaim(context.Background(), 3, time.Time{})
	assert.ErrorIs(t, err, ErrClaim)
}

func TestPostgresReleaseClaim(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`update actions set claim_id = 0 where claim_id = $1`)).
		WithArgs(int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(`delete from claims where claim_id = $1`)).
		WithArgs(int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.ReleaseClaim(context.Background(), &action.Claim{ID: 11}))
}

func TestPostgresCancelUnknownAction(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`update actions set status`).
		WithArgs("canceled", int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, s.Cancel(context.Background(), 42), ErrUnknownAction)
}

func TestPostgresStatus(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`select status from actions`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("in-progress"))

	st, err := s.Status(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, action.StatusRunning, st)
}

func TestPostgresStatusErrors(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`select status from actions`).WithArgs(int64(1)).WillReturnError(sql.ErrNoRows)
	_, err := s.Status(context.Background(), 1)
	assert.ErrorIs(t, err, ErrUnknownAction)

	mock.ExpectQuery(`select status from actions`).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("garbage"))
	_, err = s.Status(context.Background(), 2)
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestPostgresDateGMT(t *testing.T) {
	s, mock := newMockStore(t)
	scheduled := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	last := time.Date(2026, 6, 2, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`select status, scheduled_date_gmt, last_attempt_gmt`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "scheduled_date_gmt", "last_attempt_gmt"}).
			AddRow("pending", scheduled, sql.NullTime{Time: last, Valid: true}))
	got, err := s.DateGMT(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, scheduled.Equal(got))

	mock.ExpectQuery(`select status, scheduled_date_gmt, last_attempt_gmt`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "scheduled_date_gmt", "last_attempt_gmt"}).
			AddRow("complete", scheduled, sql.NullTime{Time: last, Valid: true}))
	got, err = s.DateGMT(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, last.Equal(got))

	// Finished but never attempted: the null sentinel falls back to the
	// scheduled date instead of the zero time.
	mock.ExpectQuery(`select status, scheduled_date_gmt, last_attempt_gmt`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "scheduled_date_gmt", "last_attempt_gmt"}).
			AddRow("complete", scheduled, sql.NullTime{}))
	got, err = s.DateGMT(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, scheduled.Equal(got))
}

func TestPostgresFetchRaw(t *testing.T) {
	s, mock := newMockStore(t)
	scheduled := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`select a.action_id, a.hook, a.status`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{
			"action_id", "hook", "status", "args", "schedule", "slug",
			"scheduled_date_gmt", "scheduled_date_local", "attempts",
			"last_attempt_gmt", "last_attempt_local", "claim_id",
		}).AddRow(int64(3), "h", "pending", "[]", "", "mail",
			scheduled, scheduled, 2, sql.NullTime{}, sql.NullTime{}, int64(0)))

	r, err := s.FetchRaw(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), r.ID)
	assert.Equal(t, "h", r.Hook)
	assert.Equal(t, "mail", r.Group)
	assert.Equal(t, 2, r.Attempts)
	assert.False(t, r.LastAttemptGMT.Valid, "never attempted stays the null sentinel")

	mock.ExpectQuery(`select a.action_id, a.hook, a.status`).
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)
	r, err = s.FetchRaw(context.Background(), 9)
	require.NoError(t, err)
	assert.Zero(t, r.ID, "missing id reads as an empty record")
}

func TestPostgresQueryComposesClauses(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`and g.slug=\$1 and a.hook=\$2 and a.status=\$3 and a.claim_id = 0 order by a.scheduled_date_gmt asc limit \$4 offset \$5`).
		WithArgs("g", "h", "pending", 10, 0).
		WillReturnRows(sqlmock.NewRows([]string{"action_id"}).AddRow(int64(1)))

	ids, err := s.Query(context.Background(), Query{
		Hook: "h", Group: "g", Status: action.StatusPending, Claimed: Unclaimed(), Limit: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)
}

func TestPostgresMigrationFlag(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`select value from scheduler_state`).WillReturnError(sql.ErrNoRows)
	v, err := s.LoadMigrationStatus(context.Background())
	require.NoError(t, err)
	assert.Empty(t, v, "unset flag reads as empty, not an error")

	mock.ExpectExec(`insert into scheduler_state`).
		WithArgs("complete").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.SaveMigrationStatus(context.Background(), "complete"))

	mock.ExpectQuery(`select value from scheduler_state`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("complete"))
	v, err = s.LoadMigrationStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "complete", v)
}
