// Package config loads and validates the service's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/damian-anslik/cpapi-app/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env         string        `yaml:"env"`
	Engine      EngineConfig  `yaml:"engine"`
	Gateway     GatewayConfig `yaml:"gateway"`
	Session     SessionConfig `yaml:"session"`
	Store       StoreConfig   `yaml:"store"`
	API         APIConfig     `yaml:"api"`
	MetricsAddr string        `yaml:"metricsAddr"`
	Log         logger.Config `yaml:"log"`
}

type EngineConfig struct {
	IntervalSeconds int `yaml:"intervalSeconds"` // cycle sleep, default 5
	HousekeepEvery  int `yaml:"housekeepEvery"`  // subscription release period, default 10
}

// Interval returns the cycle interval as a duration.
func (c EngineConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

type GatewayConfig struct {
	BaseURL   string  `yaml:"baseURL"`
	RestRate  float64 `yaml:"restRate"`  // limiter tokens per second
	RestBurst int     `yaml:"restBurst"` // limiter burst size
}

type SessionConfig struct {
	KeepAliveSeconds int `yaml:"keepAliveSeconds"` // default 60
}

// KeepAliveInterval returns the keep-alive period as a duration.
func (c SessionConfig) KeepAliveInterval() time.Duration {
	return time.Duration(c.KeepAliveSeconds) * time.Second
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type APIConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides selected fields from
// env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("CPAPI_BASE_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("CPAPI_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CPAPI_API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("CPAPI_ENGINE_INTERVAL_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("CPAPI_ENGINE_INTERVAL_SECONDS: %w", err)
		}
		cfg.Engine.IntervalSeconds = n
	}
	return cfg, Validate(cfg)
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Engine.IntervalSeconds == 0 {
		cfg.Engine.IntervalSeconds = 5
	}
	if cfg.Engine.HousekeepEvery == 0 {
		cfg.Engine.HousekeepEvery = 10
	}
	if cfg.Session.KeepAliveSeconds == 0 {
		cfg.Session.KeepAliveSeconds = 60
	}
	if cfg.Gateway.RestRate == 0 {
		cfg.Gateway.RestRate = 5
	}
	if cfg.Gateway.RestBurst == 0 {
		cfg.Gateway.RestBurst = 10
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = ":8000"
	}
	if cfg.Log.Level == "" {
		cfg.Log = logger.DefaultConfig()
	}
}

// Validate ensures required fields are present and sane.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Gateway.BaseURL == "" {
		return errors.New("gateway.baseURL is required (or CPAPI_BASE_URL)")
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path is required")
	}
	if cfg.Engine.IntervalSeconds < 0 {
		return errors.New("engine.intervalSeconds must be >= 0")
	}
	if cfg.Engine.HousekeepEvery < 0 {
		return errors.New("engine.housekeepEvery must be >= 0")
	}
	if cfg.Session.KeepAliveSeconds < 0 {
		return errors.New("session.keepAliveSeconds must be >= 0")
	}
	if cfg.Gateway.RestRate < 0 {
		return errors.New("gateway.restRate must be >= 0")
	}
	if cfg.Gateway.RestBurst < 0 {
		return errors.New("gateway.restBurst must be >= 0")
	}
	return nil
}
