package migration

import (
	"github.com/pkg/errors"
	"github.com/you/actionq/internal/logbook"
	"github.com/you/actionq/internal/notify"
	"github.com/you/actionq/internal/store"
	"go.uber.org/zap"
)

// Config names the two endpoints of a migration. Every endpoint must be set
// explicitly; the accessors fail loudly on a half-built config rather than
// silently migrating to or from nowhere.
type Config struct {
	sourceStore      store.Store
	destinationStore store.Store
	sourceBook       logbook.Logbook
	destinationBook  logbook.Logbook
	notifier         notify.Notifier
	logger           *zap.Logger
	dryRun           bool
}

func NewConfig() *Config {
	return &Config{notifier: notify.Nop{}, logger: zap.NewNop()}
}

func (c *Config) SetSourceStore(s store.Store) *Config      { c.sourceStore = s; return c }
func (c *Config) SetDestinationStore(s store.Store) *Config { c.destinationStore = s; return c }
func (c *Config) SetSourceBook(b logbook.Logbook) *Config   { c.sourceBook = b; return c }
func (c *Config) SetDestinationBook(b logbook.Logbook) *Config {
	c.destinationBook = b
	return c
}
func (c *Config) SetNotifier(n notify.Notifier) *Config { c.notifier = n; return c }
func (c *Config) SetLogger(l *zap.Logger) *Config       { c.logger = l; return c }
func (c *Config) SetDryRun(dry bool) *Config            { c.dryRun = dry; return c }

func (c *Config) SourceStore() (store.Store, error) {
	if c.sourceStore == nil {
		return nil, errors.New("migration config: source store is not set")
	}
	return c.sourceStore, nil
}

func (c *Config) DestinationStore() (store.Store, error) {
	if c.destinationStore == nil {
		return nil, errors.New("migration config: destination store is not set")
	}
	return c.destinationStore, nil
}

func (c *Config) SourceBook() (logbook.Logbook, error) {
	if c.sourceBook == nil {
		return nil, errors.New("migration config: source logbook is not set")
	}
	return c.sourceBook, nil
}

func (c *Config) DestinationBook() (logbook.Logbook, error) {
	if c.destinationBook == nil {
		return nil, errors.New("migration config: destination logbook is not set")
	}
	return c.destinationBook, nil
}

func (c *Config) DryRun() bool { return c.dryRun }
