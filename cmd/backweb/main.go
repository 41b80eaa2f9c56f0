// Command backweb serves a web interface over rdiff-backup repositories.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/backweb/backweb/internal/app"
	"github.com/backweb/backweb/internal/config"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "/etc/backweb/backweb.yml", "path to the configuration file")
	envFile := flag.String("env-file", "", "optional .env file loaded before the configuration")
	migrateOnly := flag.Bool("migrate", false, "apply database migrations and exit")
	flag.Parse()

	if *envFile != "" {
		if errEnv := godotenv.Load(*envFile); errEnv != nil {
			fmt.Fprintf(os.Stderr, "load env file: %v\n", errEnv)
			os.Exit(1)
		}
	} else {
		// A .env next to the binary is picked up when present.
		_ = godotenv.Load()
	}

	cfg, errLoad := config.Load(*configPath)
	if errLoad != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", errLoad)
		os.Exit(1)
	}

	if *migrateOnly {
		if errMigrate := app.Migrate(cfg); errMigrate != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", errMigrate)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if errRun := app.RunServer(ctx, cfg); errRun != nil {
		log.Fatalf("server: %v", errRun)
	}
}
