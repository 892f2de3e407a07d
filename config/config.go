// Package config loads the kernel's TOML configuration: disk image paths
// and sizes, the frame pool size, and resource limit overrides. Grounded
// on dh-cli's internal/config package (pelletier/go-toml/v2, a
// Load/ConfigPath-shaped API).
package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/antaechan/pintos-go/limits"
	"github.com/antaechan/pintos-go/util"
)

// Config is the top-level kernel configuration document.
type Config struct {
	Disk  DiskConfig  `toml:"disk"`
	Swap  DiskConfig  `toml:"swap"`
	Frame FrameConfig `toml:"frame"`
	Limits LimitsConfig `toml:"limits"`
}

// DiskConfig names a disk image file and how many sectors it should have
// (a fresh image is created and sized if it does not already exist).
type DiskConfig struct {
	Path    string `toml:"path"`
	Sectors int    `toml:"sectors"`
}

// FrameConfig sizes the simulated physical frame pool.
type FrameConfig struct {
	Count int `toml:"count"`
}

// LimitsConfig optionally overrides the default system limits.
type LimitsConfig struct {
	Sysprocs  int `toml:"sysprocs"`
	Openfiles int `toml:"openfiles"`
}

// Default returns a configuration sized for local development: a 2MB FAT
// image, a 2MB swap area, and 2048 frames (8MB of simulated memory).
func Default() *Config {
	return &Config{
		Disk:  DiskConfig{Path: "fat.img", Sectors: 4096},
		Swap:  DiskConfig{Path: "swap.img", Sectors: 4096},
		Frame: FrameConfig{Count: 2048},
	}
}

// Load reads and parses a TOML configuration file at path, falling back
// to Default() field-by-field for anything the file leaves zero.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.Disk.Sectors == 0 {
		cfg.Disk.Sectors = 4096
	}
	if cfg.Swap.Sectors == 0 {
		cfg.Swap.Sectors = 4096
	}
	if cfg.Frame.Count == 0 {
		cfg.Frame.Count = 2048
	}
	return cfg, nil
}

// ApplyLimits overrides limits.Syslimit with any non-zero fields this
// config specifies, clamped to a minimum of 1 so a misconfigured 0 or
// negative value can never wedge allocPid/fd.MkTable into refusing
// every request.
func (c *Config) ApplyLimits() {
	if c.Limits.Sysprocs != 0 {
		limits.Syslimit.Sysprocs = util.Max(c.Limits.Sysprocs, 1)
	}
	if c.Limits.Openfiles != 0 {
		limits.Syslimit.Openfiles = util.Max(c.Limits.Openfiles, 1)
	}
}
