// Package config loads runtime settings from defaults, an optional config
// file, a .env file and TACMAP_* environment variables, in rising priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "TACMAP"

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type FogConfig struct {
	BatchInterval  time.Duration `mapstructure:"batch_interval"`
	FlushTimeout   time.Duration `mapstructure:"flush_timeout"`
	AnimationSpeed float64       `mapstructure:"animation_speed"`
}

type MapConfig struct {
	ViewportBudget float64 `mapstructure:"viewport_budget"`
	GridCellSize   float64 `mapstructure:"grid_cell_size"`
}

type BrushConfig struct {
	Radius   int     `mapstructure:"radius"`
	Strength float64 `mapstructure:"strength"`
}

type RelayConfig struct {
	Listen string `mapstructure:"listen"`
	URL    string `mapstructure:"url"`
}

type DBConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type CacheConfig struct {
	MaxCost int64 `mapstructure:"max_cost"`
}

type Config struct {
	Log   LogConfig   `mapstructure:"log"`
	Fog   FogConfig   `mapstructure:"fog"`
	Map   MapConfig   `mapstructure:"map"`
	Brush BrushConfig `mapstructure:"brush"`
	Relay RelayConfig `mapstructure:"relay"`
	DB    DBConfig    `mapstructure:"db"`
	Cache CacheConfig `mapstructure:"cache"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)

	v.SetDefault("fog.batch_interval", 2*time.Second)
	v.SetDefault("fog.flush_timeout", 10*time.Second)
	v.SetDefault("fog.animation_speed", 1.0)

	v.SetDefault("map.viewport_budget", 2000.0)
	v.SetDefault("map.grid_cell_size", 50.0)

	v.SetDefault("brush.radius", 3)
	v.SetDefault("brush.strength", 1.0)

	v.SetDefault("relay.listen", ":8085")
	v.SetDefault("relay.url", "")

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "tacmap.db")

	v.SetDefault("cache.max_cost", int64(256<<20))
}

// Default returns the built-in settings.
func Default() *Config {
	cfg, _ := load(viper.New(), "")
	return cfg
}

// Load reads settings. path may be empty; when set, the file must exist.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Map.GridCellSize <= 0 {
		errs = append(errs, fmt.Errorf("map.grid_cell_size must be positive, got %v", c.Map.GridCellSize))
	}
	if c.Map.ViewportBudget <= 0 {
		errs = append(errs, fmt.Errorf("map.viewport_budget must be positive, got %v", c.Map.ViewportBudget))
	}
	if c.Fog.BatchInterval <= 0 {
		errs = append(errs, fmt.Errorf("fog.batch_interval must be positive, got %v", c.Fog.BatchInterval))
	}
	return errors.Join(errs...)
}
