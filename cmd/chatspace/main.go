package main

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"chatspace/internal/app"
	"chatspace/pkg/config"
	"chatspace/pkg/logger"
	"chatspace/pkg/shutdown"
)

// set via -ldflags at build time
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	addr, dbPath, cfgFlag, setFlags := config.ParseCommandFlags()

	cfgPath := config.ResolveConfigPath(cfgFlag, setFlags["config"])
	cfg, envUsed, err := config.LoadEffective(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// flags win over file and env
	if setFlags["addr"] {
		if host, port, err := net.SplitHostPort(addr); err == nil {
			cfg.Server.Address = host
			if p, err := strconv.Atoi(port); err == nil {
				cfg.Server.Port = p
			}
		} else {
			cfg.Server.Address = addr
		}
	}
	if setFlags["db"] || cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = dbPath
	}

	a, err := app.New(cfg, versionString())
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	logger.Info("server_starting", "addr", cfg.Addr(), "db", cfg.Storage.DBPath, "env_overrides", envUsed)

	ctx := shutdown.SetupSignalHandler()
	if err := a.Run(ctx); err != nil {
		logger.Error("server_fatal", "error", err)
		os.Exit(1)
	}
}

func versionString() string {
	v := version
	if commit != "none" {
		v += " (" + commit + ")"
	}
	if buildDate != "unknown" {
		v += " @ " + buildDate
	}
	return v
}
