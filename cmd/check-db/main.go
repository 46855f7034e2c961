// Package main is a diagnostic tool for database connectivity. It loads the
// server configuration, connects, reports the schema version and prints the
// number of associations in each state. It exits non-zero on any failure so it
// can gate deployments in CI/CD pipelines.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shelter-registry/shelter-registry/internal/config"
	"github.com/shelter-registry/shelter-registry/internal/db"
	"github.com/shelter-registry/shelter-registry/internal/db/repositories"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.Connect(ctx, cfg.Database.GetDSN(), 2, 1)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer database.Close()

	version, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		log.Fatalf("Failed to read schema version: %v", err)
	}
	fmt.Printf("Schema version: %d (dirty: %v)\n", version, dirty)
	if dirty {
		log.Fatal("Schema is dirty; fix the failed migration before deploying")
	}

	counts, err := repositories.NewAssociationRepository(database).CountByState(ctx)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	fmt.Println("=== ASSOCIATIONS ===")
	total := 0
	for _, c := range counts {
		fmt.Printf("%-10s %d\n", c.State, c.Count)
		total += c.Count
	}
	fmt.Printf("%-10s %d\n", "total", total)
}
