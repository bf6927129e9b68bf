package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	r "github.com/redis/go-redis/v9"
	"github.com/you/actionq/internal/config"
	"github.com/you/actionq/internal/logbook"
	"github.com/you/actionq/internal/logging"
	"github.com/you/actionq/internal/migration"
	"github.com/you/actionq/internal/notify"
	"github.com/you/actionq/internal/schema"
	"github.com/you/actionq/internal/store"
	"go.uber.org/zap"
)

// The scheduler daemon provisions the schema and drives the background
// migration cadence until the legacy store is drained.
func main() {
	cfg := config.Load()
	log := logging.New(cfg.AppEnv)
	defer log.Sync()

	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	if err := schema.Up(db, cfg.MigrationsDir, log); err != nil {
		log.Fatal("provision schema", zap.Error(err))
	}

	book := logbook.NewDB(db)
	notifier := notify.Multi{notify.NewZap(log), logbook.NewRecorder(book)}
	if cfg.RedisAddr != "" {
		rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		notifier = append(notifier, notify.NewRedis(rdb, cfg.NotifyChannel, log))
	}

	primary := store.NewPostgres(db, notifier)
	legacy := store.NewLegacy(db)

	runner, err := migration.NewRunner(migration.NewConfig().
		SetSourceStore(legacy).
		SetDestinationStore(primary).
		SetSourceBook(logbook.NewLegacyDB(db)).
		SetDestinationBook(book).
		SetNotifier(notifier).
		SetLogger(log))
	if err != nil {
		log.Fatal("build migration runner", zap.Error(err))
	}

	ctx := context.Background()
	scheduler, err := migration.NewScheduler(ctx, runner, primary, cfg.MigrationBatchSize, cfg.MigrationInterval, log)
	if err != nil {
		log.Fatal("build migration scheduler", zap.Error(err))
	}

	if scheduler.IsMigrationComplete() {
		log.Info("migration already complete, nothing to schedule")
	} else {
		scheduler.ScheduleMigration()
		scheduler.Start()
		defer scheduler.Stop()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")
}
