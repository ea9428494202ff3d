// Package config loads the aggregated share configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when the config file does not exist.
// Callers can check for this with errors.Is(err, config.ErrConfigNotFound).
var ErrConfigNotFound = errors.New("config file not found")

// DefaultFileName is looked up in the working directory when no path is given.
const DefaultFileName = "aggfs.yaml"

// ShareConfig describes one aggregated share. Paths order is significant:
// earlier paths win bare top-level names on collision.
type ShareConfig struct {
	Name  string   `yaml:"name"`
	Mount string   `yaml:"mount"`
	Paths []string `yaml:"paths"`
}

type Config struct {
	StateFile string        `yaml:"state_file,omitempty"`
	LogLevel  string        `yaml:"log_level,omitempty"`
	MaxSuffix int           `yaml:"max_suffix,omitempty"`
	Shares    []ShareConfig `yaml:"shares"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks that every share can be constructed.
func (c *Config) Validate() error {
	if len(c.Shares) == 0 {
		return errors.New("no shares configured")
	}
	if c.MaxSuffix < 0 {
		return fmt.Errorf("max_suffix must not be negative, got %d", c.MaxSuffix)
	}

	seen := make(map[string]bool, len(c.Shares))
	for i, s := range c.Shares {
		if s.Name == "" {
			return fmt.Errorf("share #%d: name is required", i+1)
		}
		if seen[s.Name] {
			return fmt.Errorf("share %q: duplicate name", s.Name)
		}
		seen[s.Name] = true
		if s.Mount == "" {
			return fmt.Errorf("share %q: mount is required", s.Name)
		}
		if len(s.Paths) == 0 {
			return fmt.Errorf("share %q: at least one path is required", s.Name)
		}
		for _, p := range s.Paths {
			if p == "" {
				return fmt.Errorf("share %q: empty path", s.Name)
			}
		}
	}
	return nil
}

// Share returns the share with the given name.
func (c *Config) Share(name string) (ShareConfig, bool) {
	for _, s := range c.Shares {
		if s.Name == name {
			return s, true
		}
	}
	return ShareConfig{}, false
}
