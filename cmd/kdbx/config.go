package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Config is the optional YAML configuration file.
type Config struct {
	// KeyFile is added to the password for every database.
	KeyFile string `yaml:"keyfile"`

	LogLevel string `yaml:"log_level"`

	// IgnoreGroups names top-level groups that diff skips.
	IgnoreGroups []string `yaml:"ignore_groups"`

	ShowPasswords bool `yaml:"show_passwords"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:     "warning",
		IgnoreGroups: []string{"Backup"},
	}
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "kdbx", "config.yaml")
}

// loadConfig reads path over the defaults. A missing file is only an error
// if the path was given explicitly.
func loadConfig(path string, explicit bool) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
