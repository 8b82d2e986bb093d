package main

// Run database migrations:
//   go run ./cmd/migrate [--command up|down|status|version|redo]

import (
	"context"
	"os"

	"github.com/spf13/pflag"

	"docverify/internal/shared/config"
	"docverify/internal/shared/storage/db"
	"docverify/internal/shared/telemetry"
)

func main() {
	command := pflag.StringP("command", "c", "up", "goose command: up, down, status, version or redo")
	pflag.Parse()

	cfg := config.Load()
	ctx := context.Background()

	opts := db.MigrateOptions().WithEnv()
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		telemetry.Error("migrate.connect_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer sqlDB.Close()

	if err := db.Migrate(ctx, sqlDB, *command); err != nil {
		telemetry.Error("migrate.failed", map[string]any{"command": *command, "error": err.Error()})
		os.Exit(1)
	}
	telemetry.Info("migrate.done", map[string]any{"command": *command})
}
