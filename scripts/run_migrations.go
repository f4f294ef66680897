package main

import (
	"log"
	"os"

	"github.com/safar/solestore/internal/config"
	"github.com/safar/solestore/internal/database"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: go run scripts/run_migrations.go [up|down]")
	}

	direction := os.Args[1]
	if direction != "up" && direction != "down" {
		log.Fatal("Direction must be 'up' or 'down'")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	run := database.MigrateUp
	if direction == "down" {
		run = database.MigrateDown
	}

	if err := run(db, cfg.Database.MigrationsPath); err != nil {
		log.Fatalf("Migrate %s: %v", direction, err)
	}

	log.Printf("Successfully ran migrations %s from %s", direction, cfg.Database.MigrationsPath)
}
