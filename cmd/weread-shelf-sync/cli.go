package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/drallgood/weread-shelf-sync/internal/logger"
)

// configFlags holds the command-line flags
type configFlags struct {
	configFile      string // Path to config file
	port            string // HTTP port
	databaseType    string // sqlite, postgres or mysql
	allowUnverified bool   // Accept cookies the platform rejects as dev logins
	help            bool   // Show help
	version         bool   // Show version
}

// parseFlags parses command-line flags. Flags override the environment,
// which overrides the config file.
func parseFlags() *configFlags {
	var cfg configFlags

	flag.StringVar(&cfg.configFile, "config", "", "Path to config file (YAML)")
	flag.StringVar(&cfg.port, "port", "", "HTTP port (default 8000)")
	flag.StringVar(&cfg.databaseType, "database-type", "", "Database type: sqlite, postgres or mysql")
	flag.BoolVar(&cfg.allowUnverified, "allow-unverified", false, "Accept logins the platform rejects (development only)")
	flag.BoolVar(&cfg.help, "help", false, "Show help")
	flag.BoolVar(&cfg.version, "version", false, "Show version")

	flag.Parse()

	setEnvFromFlag(cfg.port, "PORT")
	setEnvFromFlag(cfg.databaseType, "DATABASE_TYPE")
	if cfg.allowUnverified {
		setEnvFromFlag("true", "ALLOW_UNVERIFIED_LOGIN")
	}

	return &cfg
}

// setEnvFromFlag sets an environment variable if the flag value is not empty
func setEnvFromFlag(value, envVar string) {
	if value != "" {
		if err := os.Setenv(envVar, value); err != nil {
			logger.Get().Warn("Failed to set environment variable", map[string]interface{}{
				"error": err.Error(),
				"var":   envVar,
			})
		}
	}
}

func showHelp() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\nOptions:\n", os.Args[0])
	flag.PrintDefaults()
}

func showVersion() {
	fmt.Printf("weread-shelf-sync %s\n", version)
}
