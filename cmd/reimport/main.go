// Command reimport rebuilds every (account, instrument) pair found in
// the execution store, in chronological order of first appearance. It is
// the one-time entry point for historical data migration; day-to-day
// rebuilds are incremental and happen inside the server.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/tradejournal/position-engine/internal/builder"
	"github.com/tradejournal/position-engine/internal/config"
	"github.com/tradejournal/position-engine/internal/database"
	"github.com/tradejournal/position-engine/internal/instrument"
	"github.com/tradejournal/position-engine/internal/rebuild"
)

func main() {
	timeout := flag.Duration("timeout", 10*time.Minute, "overall reimport timeout")
	flag.Parse()

	cfg := config.Load()

	db, err := database.New(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations(cfg.Database.MigrationsPath); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	multipliers := instrument.NewTable(cfg.Engine.Multipliers)
	positionBuilder := builder.New(db, db, multipliers)
	// No cache invalidation or event fan-out for a bulk migration run;
	// downstream consumers repopulate from scratch afterwards.
	orchestrator := rebuild.New(positionBuilder, db, nil, nil, cfg.Engine.RebuildLockWait)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	results, err := orchestrator.RebuildAll(ctx)
	for key, ids := range results {
		log.Printf("Rebuilt %s: %d positions", key, len(ids))
	}
	if err != nil {
		log.Printf("Reimport finished with errors: %v", err)
		os.Exit(1)
	}
	log.Printf("Reimport complete: %d pairs rebuilt", len(results))
}
