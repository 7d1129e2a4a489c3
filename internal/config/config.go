package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AnishMulay/sectorfs/internal/block_cache"
	"github.com/AnishMulay/sectorfs/internal/log_service"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	DeviceMemory = "memory"
	DeviceFile   = "file"
	DeviceRemote = "remote"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	NodeID   string `yaml:"node_id"`
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`

	Device struct {
		Type    string `yaml:"type"`
		Image   string `yaml:"image"`
		Sectors uint32 `yaml:"sectors"`
		Address string `yaml:"address"`
	} `yaml:"device"`

	Cache struct {
		Capacity int `yaml:"capacity"`
	} `yaml:"cache"`

	Server struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"server"`
}

func Default() *Config {
	cfg := &Config{
		NodeID:   "sectorfs-" + uuid.New().String()[:8],
		DataDir:  "./data",
		LogLevel: log_service.InfoLevel,
	}
	cfg.Device.Type = DeviceFile
	cfg.Device.Image = "./data/disk.img"
	cfg.Device.Sectors = 16384
	cfg.Device.Address = "localhost:9090"
	cfg.Cache.Capacity = block_cache.DefaultCapacity
	cfg.Server.ListenAddr = ":9090"
	return cfg
}

// Load reads the YAML file at path. A missing file is created holding the
// defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal default config: %w", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("%w: node_id is required", ErrInvalidConfig)
	}
	switch c.LogLevel {
	case log_service.DebugLevel, log_service.InfoLevel, log_service.WarnLevel, log_service.ErrorLevel:
	default:
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, c.LogLevel)
	}

	switch c.Device.Type {
	case DeviceMemory:
		if c.Device.Sectors == 0 {
			return fmt.Errorf("%w: memory device needs sectors", ErrInvalidConfig)
		}
	case DeviceFile:
		if c.Device.Image == "" {
			return fmt.Errorf("%w: file device needs an image path", ErrInvalidConfig)
		}
	case DeviceRemote:
		if c.Device.Address == "" {
			return fmt.Errorf("%w: remote device needs an address", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown device type %q", ErrInvalidConfig, c.Device.Type)
	}

	if c.Cache.Capacity < 1 {
		return fmt.Errorf("%w: cache capacity must be positive", ErrInvalidConfig)
	}
	return nil
}

// LogDir is where the node's log file is written.
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}
