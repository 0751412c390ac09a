package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/bunshop/bunshop-backend/pkg/config"
	"github.com/bunshop/bunshop-backend/pkg/db"
	"github.com/bunshop/bunshop-backend/pkg/logger"
	"github.com/bunshop/bunshop-backend/pkg/migrate"
)

func main() {
	_ = godotenv.Load()

	dir := flag.String("dir", migrate.DefaultDir, "directory with migration files")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: migrate [-dir path] <command> [args]")
		fmt.Fprintln(os.Stderr, "commands: up, up-to, down, down-to, status, version, redo")
		os.Exit(2)
	}
	command := args[0]

	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "bunshop-migrate"})

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "loading config", err)
		os.Exit(1)
	}

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "connecting to database", err)
		os.Exit(1)
	}
	defer client.Close()

	sqlDB, err := client.DB().DB()
	if err != nil {
		logg.Error(ctx, "extracting sql handle", err)
		os.Exit(1)
	}

	if command == "up-to" || command == "down-to" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "usage: migrate %s <version>\n", command)
			os.Exit(2)
		}
		if err := migrate.MigrateToVersion(ctx, sqlDB, *dir, args[1]); err != nil {
			logg.Error(ctx, "migration failed", err)
			os.Exit(1)
		}
		logg.Info(ctx, "migration complete")
		return
	}

	if err := migrate.Run(ctx, sqlDB, *dir, command, args[1:]...); err != nil {
		logg.Error(ctx, "migration failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migration complete")
}
