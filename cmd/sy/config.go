package main

import (
	"github.com/julien-blanchon/sy/internal/config"
	"github.com/julien-blanchon/sy/internal/logging"
)

var log = logging.Root.Sublogger("cmd")

// loadConfiguration reads the user's YAML configuration, if any, falling
// back to an empty Configuration when none is found or the path cannot be
// determined (e.g. HOME unset).
func loadConfiguration() *config.Configuration {
	path, err := config.DefaultPath()
	if err != nil {
		log.Debugf("unable to determine configuration path: %v", err)
		return &config.Configuration{}
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Warn(err)
		return &config.Configuration{}
	}
	return cfg
}
