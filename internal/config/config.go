// Package config loads sy's optional YAML configuration file, following
// mutagen's pkg/configuration pattern of a thin typed struct loaded with
// yaml.v3 and sensible zero-value defaults when the file is absent.
package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Configuration holds sy's tunable defaults, overridable per invocation by
// CLI flags.
type Configuration struct {
	Sync struct {
		CompressMinSize uint64 `yaml:"compressMinSize"`
		DeltaMinSize    uint64 `yaml:"deltaMinSize"`
		Workers         int    `yaml:"workers"`
	} `yaml:"sync"`
	SSH struct {
		Command       string   `yaml:"command"`
		IdentityFiles []string `yaml:"identityFiles"`
	} `yaml:"ssh"`
}

// DefaultPath returns $HOME/.config/sy/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "unable to determine home directory")
	}
	return filepath.Join(home, ".config", "sy", "config.yaml"), nil
}

// Load reads and parses the configuration at path. A missing file yields
// an empty, zero-valued Configuration rather than an error, matching
// mutagen's Load behavior of passing through os.IsNotExist as "no
// configuration".
func Load(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Configuration{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to read configuration file")
	}

	cfg := &Configuration{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "unable to parse configuration file")
	}
	return cfg, nil
}
