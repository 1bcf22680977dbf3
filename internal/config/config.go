// Package config loads the engine's YAML configuration.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/nova-docdb/docdb/internal/storage"
)

// Config is the engine's top-level configuration, populated from a YAML
// file. CLI flag handling that would populate this struct interactively is
// out of scope for the core engine.
type Config struct {
	Storage struct {
		// Path is the database file path.
		Path string `mapstructure:"path"`
		// WALPath is the write-ahead log file path.
		WALPath string `mapstructure:"wal_path"`
		// PageSize must equal storage.PageSize; it is validated, not
		// applied, since the on-disk formats fix it at 4096.
		PageSize int `mapstructure:"page_size"`
	} `mapstructure:"storage"`

	BufferPool struct {
		// Capacity is the number of frames held by the buffer pool.
		Capacity int `mapstructure:"capacity"`
	} `mapstructure:"buffer_pool"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

// Default returns a Config with the engine's baseline settings, used when no
// YAML file is supplied.
func Default() *Config {
	c := &Config{}
	c.Storage.Path = "docdb.db"
	c.Storage.WALPath = "docdb.wal"
	c.Storage.PageSize = 4096
	c.BufferPool.Capacity = 128
	c.Log.Level = "info"
	return c
}

// Load reads a YAML config file at path and merges it over Default().
func Load(path string) (*Config, error) {
	def := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("storage.path", def.Storage.Path)
	v.SetDefault("storage.wal_path", def.Storage.WALPath)
	v.SetDefault("storage.page_size", def.Storage.PageSize)
	v.SetDefault("buffer_pool.capacity", def.BufferPool.Capacity)
	v.SetDefault("log.level", def.Log.Level)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	if cfg.Storage.PageSize != storage.PageSize {
		return nil, fmt.Errorf("config: %s: page_size %d must be %d", path, cfg.Storage.PageSize, storage.PageSize)
	}
	return cfg, nil
}
