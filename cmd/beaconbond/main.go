package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"beaconbond/internal/app"
	"beaconbond/pkg/config"
	"beaconbond/pkg/logger"
	"beaconbond/pkg/shutdown"
)

// build metadata, set via ldflags during release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")

	flags := config.ParseCommandFlags()
	cfgPath := config.ResolveConfigPath(flags.Config, flags.Set["config"])

	cfg, envUsed, err := config.LoadEffective(cfgPath)
	if err != nil {
		logger.Init()
		logger.Error("config_load_failed", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	logger.InitWithLevel(cfg.Logging.Level)

	// flags win over env and config for addr and db path
	addr := cfg.Addr()
	if flags.Set["addr"] {
		addr = flags.Addr
	}
	dbPath := cfg.Server.DBPath
	if dbPath == "" || flags.Set["db"] {
		dbPath = flags.DB
	}

	source := "config"
	switch {
	case len(flags.Set) > 0:
		source = "flags"
	case envUsed:
		source = "env"
	}

	eff := config.EffectiveConfigResult{Config: cfg, Addr: addr, DBPath: dbPath, Source: source}

	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("startup failed", err, dbPath, 0)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("server failed", err, dbPath, 0)
	}
}
