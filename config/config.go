// Package config handles kopi.toml project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "kopi.toml"

// DefaultMaxStackDepth is the frame limit used when none is configured.
const DefaultMaxStackDepth = 1024

// Config represents a kopi.toml file.
type Config struct {
	Runtime    Runtime           `toml:"runtime"`
	Log        Log               `toml:"log"`
	Cache      Cache             `toml:"cache"`
	Properties map[string]string `toml:"properties"`

	// Dir is the directory containing the kopi.toml file (set at load time).
	Dir string `toml:"-"`
}

// Runtime configures class lookup and execution limits.
type Runtime struct {
	ClassPath     []string `toml:"classpath"`
	JRE           string   `toml:"jre"`
	Main          string   `toml:"main"`
	MaxStackDepth int      `toml:"max-stack-depth"`
	SystemLoader  *bool    `toml:"system-loader"`
}

// Log configures diagnostic logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Cache configures the persistent archive index.
type Cache struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Default returns the configuration used when no kopi.toml exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Runtime.MaxStackDepth <= 0 {
		c.Runtime.MaxStackDepth = DefaultMaxStackDepth
	}
	if c.Runtime.SystemLoader == nil {
		on := true
		c.Runtime.SystemLoader = &on
	}
	if c.Cache.Path == "" {
		c.Cache.Path = filepath.Join(".kopi", "index.db")
	}
}

// Load parses a kopi.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if c.Runtime.MaxStackDepth < 0 {
		return nil, fmt.Errorf("%s: max-stack-depth must not be negative", path)
	}
	c.applyDefaults()
	return &c, nil
}

// FindAndLoad walks up from startDir to find a kopi.toml file, then loads
// and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// ClassPathList returns the configured class path as a platform path list,
// with relative elements resolved against the config directory.
func (c *Config) ClassPathList() string {
	parts := make([]string, 0, len(c.Runtime.ClassPath))
	for _, p := range c.Runtime.ClassPath {
		parts = append(parts, c.resolve(p))
	}
	return strings.Join(parts, string(filepath.ListSeparator))
}

// JREPath returns the configured JRE directory, or "".
func (c *Config) JREPath() string {
	if c.Runtime.JRE == "" {
		return ""
	}
	return c.resolve(c.Runtime.JRE)
}

// CachePath returns the absolute archive index location.
func (c *Config) CachePath() string {
	return c.resolve(c.Cache.Path)
}

// UseSystemLoader reports whether the main class is loaded through
// ClassLoader.getSystemClassLoader().
func (c *Config) UseSystemLoader() bool {
	return c.Runtime.SystemLoader == nil || *c.Runtime.SystemLoader
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}
