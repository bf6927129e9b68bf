package schema

import (
	"database/sql"

	"github.com/pkg/errors"
	"github.com/pressly/goose"
	"go.uber.org/zap"
)

// Up applies any pending schema versions from dir. Goose tracks the applied
// version in its own table, so repeated calls are idempotent and each version
// runs once.
func Up(db *sql.DB, dir string, log *zap.Logger) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "set goose dialect")
	}
	before, err := goose.GetDBVersion(db)
	if err != nil {
		return errors.Wrap(err, "read schema version")
	}
	if err := goose.Up(db, dir); err != nil {
		return errors.Wrap(err, "apply schema")
	}
	after, err := goose.GetDBVersion(db)
	if err != nil {
		return errors.Wrap(err, "read schema version")
	}
	if after != before {
		log.Info("schema upgraded", zap.Int64("from", before), zap.Int64("to", after))
	}
	return nil
}

// Version reports the currently applied schema version.
func Version(db *sql.DB) (int64, error) {
	if err := goose.SetDialect("postgres"); err != nil {
		return 0, errors.Wrap(err, "set goose dialect")
	}
	v, err := goose.GetDBVersion(db)
	return v, errors.Wrap(err, "read schema version")
}
