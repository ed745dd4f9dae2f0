package cmd

import (
	"fmt"

	"github.com/monocle-dev/relay/internal/config"
	"github.com/monocle-dev/relay/internal/logging"
)

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("config error: %w", err)
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logging.InitLogger(cfg)
	return cfg, nil
}
