package logbook

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DB stores history in the logs table of the optimized schema.
type DB struct {
	db  *sql.DB
	loc *time.Location
}

func NewDB(db *sql.DB) *DB { return &DB{db: db, loc: time.Local} }

func (b *DB) Log(ctx context.Context, actionID int64, message string) error {
	now := time.Now()
	_, err := b.db.ExecContext(ctx, `insert into logs
(action_id, message, log_date_gmt, log_date_local) values ($1,$2,$3,$4)`,
		actionID, message, now.UTC(), now.In(b.loc))
	return errors.Wrap(err, "write log entry")
}

func (b *DB) Entries(ctx context.Context, actionID int64) ([]Entry, error) {
	rows, err := b.db.QueryContext(ctx, `select action_id, message, log_date_gmt
from logs where action_id = $1 order by log_id asc`, actionID)
	if err != nil {
		return nil, errors.Wrap(err, "read log entries")
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (b *DB) DeleteFor(ctx context.Context, actionID int64) error {
	_, err := b.db.ExecContext(ctx, `delete from logs where action_id = $1`, actionID)
	return errors.Wrap(err, "delete log entries")
}

// LegacyDB reads and prunes history in the legacy schema's log table.
type LegacyDB struct {
	db *sql.DB
}

func NewLegacyDB(db *sql.DB) *LegacyDB { return &LegacyDB{db: db} }

func (b *LegacyDB) Log(ctx context.Context, actionID int64, message string) error {
	_, err := b.db.ExecContext(ctx, `insert into legacy_logs
(action_id, message, log_date_gmt) values ($1,$2,$3)`, actionID, message, time.Now().UTC())
	return errors.Wrap(err, "write legacy log entry")
}

func (b *LegacyDB) Entries(ctx context.Context, actionID int64) ([]Entry, error) {
	rows, err := b.db.QueryContext(ctx, `select action_id, message, log_date_gmt
from legacy_logs where action_id = $1 order by log_id asc`, actionID)
	if err != nil {
		return nil, errors.Wrap(err, "read legacy log entries")
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (b *LegacyDB) DeleteFor(ctx context.Context, actionID int64) error {
	_, err := b.db.ExecContext(ctx, `delete from legacy_logs where action_id = $1`, actionID)
	return errors.Wrap(err, "delete legacy log entries")
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ActionID, &e.Message, &e.DateGMT); err != nil {
			return nil, errors.Wrap(err, "scan log entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Memory is the in-process logbook used by tests.
type Memory struct {
	mu      sync.Mutex
	entries map[int64][]Entry
}

func NewMemory() *Memory { return &Memory{entries: map[int64][]Entry{}} }

func (b *Memory) Log(_ context.Context, actionID int64, message string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[actionID] = append(b.entries[actionID], Entry{
		ActionID: actionID,
		Message:  message,
		DateGMT:  time.Now().UTC(),
	})
	return nil
}

func (b *Memory) Entries(_ context.Context, actionID int64) ([]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.entries[actionID]))
	copy(out, b.entries[actionID])
	return out, nil
}

func (b *Memory) DeleteFor(_ context.Context, actionID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, actionID)
	return nil
}
