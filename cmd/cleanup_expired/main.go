// Command cleanup_expired marks completed jobs past the retention window
// as expired, deletes their artifacts and prunes stale cache entries. Meant
// for cron; the server also sweeps on its own timer.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"pdf-translator/internal/config"
	"pdf-translator/internal/job"
	"pdf-translator/internal/ledger"
	"pdf-translator/internal/logger"
	"pdf-translator/internal/store"
	"pdf-translator/internal/translate"
)

var (
	configFlag   = flag.String("config", "", "path to the configuration file")
	cacheAgeFlag = flag.Duration("cache-age", 7*24*time.Hour, "delete cache entries older than this")
)

func main() {
	flag.Parse()
	godotenv.Load()

	mgr := config.NewManager(*configFlag)
	if err := mgr.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot load configuration: %v\n", err)
		os.Exit(1)
	}
	settings := mgr.Get()

	logger.Init(&logger.Config{Level: settings.LoggerLevel(), EnableConsole: true})
	defer logger.Close()

	if err := run(settings); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(settings *config.Settings) error {
	db, err := sql.Open("sqlite", settings.DatabasePath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	jobStore, err := job.NewStore(db)
	if err != nil {
		return err
	}
	creditLedger, err := ledger.NewLedger(db)
	if err != nil {
		return err
	}
	cache, err := translate.NewCache(db)
	if err != nil {
		return err
	}
	artifacts, err := store.NewArtifacts(settings.UploadDir(), settings.OutputDir())
	if err != nil {
		return err
	}

	orch := job.NewOrchestrator(job.OrchestratorConfig{
		Store:     jobStore,
		Ledger:    creditLedger,
		Artifacts: artifacts,
		Retention: time.Duration(settings.RetentionHours) * time.Hour,
	})

	swept, err := orch.SweepExpired()
	if err != nil {
		return err
	}
	pruned, err := cache.Prune(*cacheAgeFlag)
	if err != nil {
		return err
	}

	fmt.Printf("Expired %d job(s), pruned %d cache entr(ies)\n", swept, pruned)
	return nil
}
