// Package main applies schema migrations for the two stores: the
// snapshot database (Postgres) and the price sample store (ClickHouse).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/wallet-analyzer/internal/config"
	"github.com/wallet-analyzer/internal/storage"
)

const (
	postgresMigrationsPath   = "migrations/postgres"
	clickhouseMigrationsPath = "migrations/clickhouse"
)

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, version")
		dbType = flag.String("db", "postgres", "Database type: postgres, clickhouse")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	switch *dbType {
	case "postgres":
		if err := runPostgresMigrations(cfg, *action); err != nil {
			log.Fatalf("Snapshot store migration failed: %v", err)
		}
	case "clickhouse":
		if err := runClickHouseMigrations(cfg, *action); err != nil {
			log.Fatalf("Sample store migration failed: %v", err)
		}
	default:
		log.Fatalf("Unknown database type: %s", *dbType)
	}
}

func runPostgresMigrations(cfg *config.Config, action string) error {
	databaseURL := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.Database.Postgres.User,
		cfg.Database.Postgres.Password,
		cfg.Database.Postgres.Host,
		cfg.Database.Postgres.Port,
		cfg.Database.Postgres.Database,
	)

	switch action {
	case "up":
		log.Println("Applying snapshot store migrations...")
		if err := storage.RunMigrations(databaseURL, postgresMigrationsPath); err != nil {
			return err
		}
		log.Println("Snapshot store migrations applied")

	case "down":
		log.Println("Rolling back one snapshot store migration...")
		if err := storage.RollbackMigrations(databaseURL, postgresMigrationsPath); err != nil {
			return err
		}
		log.Println("Snapshot store migration rolled back")

	case "version":
		version, dirty, err := storage.MigrationVersion(databaseURL, postgresMigrationsPath)
		if err != nil {
			return err
		}
		log.Printf("Snapshot store schema version: %d (dirty: %v)", version, dirty)

	default:
		return fmt.Errorf("unknown action: %s", action)
	}

	return nil
}

// ClickHouse tables are append-only sample storage; there is nothing
// sensible to roll back to, so only "up" is supported.
func runClickHouseMigrations(cfg *config.Config, action string) error {
	if action != "up" {
		return fmt.Errorf("ClickHouse migrations only support 'up' action")
	}

	log.Println("Connecting to ClickHouse...")
	db, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing ClickHouse connection: %v", err)
		}
	}()

	if _, err := os.Stat(clickhouseMigrationsPath); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory not found: %s", clickhouseMigrationsPath)
	}

	log.Println("Applying sample store migrations...")
	if err := storage.RunClickHouseMigrations(db, clickhouseMigrationsPath); err != nil {
		return err
	}

	log.Println("Sample store migrations applied")
	return nil
}
