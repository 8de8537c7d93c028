package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"CryptoDaily/internal/di"
	"CryptoDaily/pkg/config"
)

const usage = `usage: app [-config path] [update_daily]

With no command the service bootstraps an empty store, serves the ops API
and syncs daily on the configured schedule. update_daily runs one sync
pass over every stored asset and exits.
`

func main() {
	// Parse flags
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd != "" && cmd != "update_daily" {
		flag.Usage()
		os.Exit(2)
	}

	// Load config
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	// Wire DI: Initialize all dependencies
	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	ctx := context.Background()
	if cmd == "update_daily" {
		err = app.RunOnce(ctx)
	} else {
		// Run application (blocks until signal)
		err = app.Run(ctx)
	}
	cleanup()

	if err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
