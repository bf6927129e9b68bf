package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/you/actionq/internal/config"
	"github.com/you/actionq/internal/logbook"
	"github.com/you/actionq/internal/logging"
	"github.com/you/actionq/internal/migration"
	"github.com/you/actionq/internal/notify"
	"github.com/you/actionq/internal/schema"
	"github.com/you/actionq/internal/store"
	"go.uber.org/zap"
)

// Bulk migration front-end: drains the legacy store batch by batch, then
// marks the migration complete. With -dry-run it reports a single batch of
// candidates and changes nothing.
func main() {
	batchSize := flag.Int("batch", 100, "number of actions to process per batch")
	dryRun := flag.Bool("dry-run", false, "report what would migrate without changing any data")
	flag.Parse()

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
	primary := store.NewPostgres(db, notify.Multi{notify.NewZap(log), logbook.NewRecorder(book)})
	legacy := store.NewLegacy(db)

	runner, err := migration.NewRunner(migration.NewConfig().
		SetSourceStore(legacy).
		SetDestinationStore(primary).
		SetSourceBook(logbook.NewLegacyDB(db)).
		SetDestinationBook(book).
		SetNotifier(notify.NewZap(log)).
		SetLogger(log).
		SetDryRun(*dryRun))
	if err != nil {
		log.Fatal("build migration runner", zap.Error(err))
	}

	ctx := context.Background()
	total := 0
	for {
		processed, err := runner.Run(ctx, *batchSize)
		if err != nil {
			log.Fatal("migration batch failed", zap.Error(err))
		}
		total += processed
		// A dry run moves nothing, so the fetcher would serve the same
		// candidates forever; one pass is the report.
		if processed == 0 || *dryRun {
			break
		}
	}

	if *dryRun {
		fmt.Printf("Dry run complete. %d actions would be processed.\n", total)
		return
	}

	scheduler, err := migration.NewScheduler(ctx, runner, primary, *batchSize, cfg.MigrationInterval, log)
	if err != nil {
		log.Fatal("build migration scheduler", zap.Error(err))
	}
	if err := scheduler.MarkComplete(ctx); err != nil {
		log.Fatal("mark migration complete", zap.Error(err))
	}
	fmt.Printf("Migration complete. %d actions processed.\n", total)
}
