package logbook

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBLogbook(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	book := NewDB(db)
	ctx := context.Background()

	mock.ExpectExec(`insert into logs`).
		WithArgs(int64(5), "action created", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, book.Log(ctx, 5, "action created"))

	at := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`select action_id, message, log_date_gmt`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"action_id", "message", "log_date_gmt"}).
			AddRow(int64(5), "action created", at))
	entries, err := book.Entries(ctx, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "action created", entries[0].Message)
	assert.True(t, at.Equal(entries[0].DateGMT))

	mock.ExpectExec(`delete from logs`).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, book.DeleteFor(ctx, 5))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLegacyDBLogbook(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	book := NewLegacyDB(db)
	ctx := context.Background()

	mock.ExpectQuery(`select action_id, message, log_date_gmt`).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"action_id", "message", "log_date_gmt"}))
	entries, err := book.Entries(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, entries)

	mock.ExpectExec(`delete from legacy_logs`).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, book.DeleteFor(ctx, 2))

	assert.NoError(t, mock.ExpectationsWereMet())
}
