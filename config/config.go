// Package config handles rbridge.toml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/rbridge/vm"
)

// FileName is the name of the configuration file.
const FileName = "rbridge.toml"

// Config represents an rbridge.toml file.
type Config struct {
	Heap Heap `toml:"heap"`
	Env  Env  `toml:"env"`
	Log  Log  `toml:"log"`

	// Dir is the directory containing the rbridge.toml file (set at load time).
	// Empty for the built-in defaults.
	Dir string `toml:"-"`
}

// Heap configures the interpreter heap.
type Heap struct {
	GCThreshold      int  `toml:"gc-threshold"`
	GCTorture        bool `toml:"gc-torture"`
	MaxObjects       int  `toml:"max-objects"`
	ProtectStackSize int  `toml:"protect-stack-size"`
}

// Env configures environments built by the bridge.
type Env struct {
	HashSize int `toml:"hash-size"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no rbridge.toml is found.
func Default() *Config {
	c := &Config{Log: Log{Verbosity: 1}}
	c.fillDefaults()
	return c
}

// Load parses an rbridge.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return parse(dir, path, data)
}

func parse(dir, path string, data []byte) (*Config, error) {
	c := Config{Log: Log{Verbosity: 1}}
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	c.fillDefaults()
	return &c, nil
}

// FindAndLoad walks up from startDir to find an rbridge.toml file,
// then loads and returns it. Returns Default() if none is found.
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
			return Default(), nil
		}
		dir = parent
	}
}

func (c *Config) validate() error {
	switch {
	case c.Heap.GCThreshold < 0:
		return fmt.Errorf("heap.gc-threshold must not be negative")
	case c.Heap.MaxObjects < 0:
		return fmt.Errorf("heap.max-objects must not be negative")
	case c.Heap.ProtectStackSize < 0:
		return fmt.Errorf("heap.protect-stack-size must not be negative")
	case c.Env.HashSize < 0:
		return fmt.Errorf("env.hash-size must not be negative")
	}
	return nil
}

func (c *Config) fillDefaults() {
	if c.Heap.GCThreshold == 0 {
		c.Heap.GCThreshold = vm.DefaultGCThreshold
	}
	if c.Heap.MaxObjects == 0 {
		c.Heap.MaxObjects = vm.DefaultMaxObjects
	}
	if c.Heap.ProtectStackSize == 0 {
		c.Heap.ProtectStackSize = vm.DefaultProtectStackSize
	}
	if c.Env.HashSize == 0 {
		c.Env.HashSize = vm.DefaultHashSize
	}
}

// HeapConfig converts the [heap] table to a vm.Config. OnFatal is left for
// the caller.
func (c *Config) HeapConfig() vm.Config {
	return vm.Config{
		GCThreshold:      c.Heap.GCThreshold,
		Torture:          c.Heap.GCTorture,
		MaxObjects:       c.Heap.MaxObjects,
		ProtectStackSize: c.Heap.ProtectStackSize,
	}
}

// LogPath returns the log file path resolved against Dir, or nil for stderr.
func (c *Config) LogPath() *string {
	if c.Log.File == "" {
		return nil
	}
	path := c.Log.File
	if !filepath.IsAbs(path) && c.Dir != "" {
		path = filepath.Join(c.Dir, path)
	}
	return &path
}
