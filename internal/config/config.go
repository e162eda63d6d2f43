// Package config loads server settings from a YAML file, the environment
// and command-line flags, in that order of precedence (flags win).
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/adhocore/gronx"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Public    PublicConfig    `yaml:"public"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	// Ports are tried in order; the first one that binds is used.
	Ports          []int     `yaml:"ports"`
	ReadTimeout    Duration  `yaml:"read_timeout"`
	WriteTimeout   Duration  `yaml:"write_timeout"`
	MaxHeaderBytes SizeBytes `yaml:"max_header_bytes"`
	MaxBodyBytes   SizeBytes `yaml:"max_body_bytes"`
}

type PublicConfig struct {
	Root string `yaml:"root"`
}

type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

type AuthConfig struct {
	TokenTTL   Duration `yaml:"token_ttl"`
	SweepCron  string   `yaml:"sweep_cron"`
	BcryptCost int      `yaml:"bcrypt_cost"`
}

// RateLimitConfig bounds new connections per client IP. RPS <= 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Sink   string `yaml:"sink"`
}

// MetricsConfig enables the Prometheus endpoint when Address is set.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// Default mirrors the original deployment: public/ next to the binary and
// the 80, 8000, 8080, 8888 port ladder.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Ports:          []int{80, 8000, 8080, 8888},
			ReadTimeout:    Duration(10 * time.Second),
			WriteTimeout:   Duration(10 * time.Second),
			MaxHeaderBytes: 64 << 10,
			MaxBodyBytes:   10 << 20,
		},
		Public:  PublicConfig{Root: "public"},
		Storage: StorageConfig{DBPath: "./.database"},
		Auth: AuthConfig{
			TokenTTL:  Duration(24 * time.Hour),
			SweepCron: "@hourly",
		},
		RateLimit: RateLimitConfig{RPS: 50, Burst: 100},
		Logging:   LoggingConfig{Level: "info", Format: "json", Sink: "stdout"},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Server.Ports) == 0 {
		return errors.New("server.ports must list at least one port")
	}
	for _, p := range c.Server.Ports {
		if p < 0 || p > 65535 {
			return fmt.Errorf("invalid port: %d", p)
		}
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return errors.New("server timeouts must not be negative")
	}
	if c.Server.MaxHeaderBytes <= 0 {
		return errors.New("server.max_header_bytes must be positive")
	}
	if c.Server.MaxBodyBytes < 0 {
		return errors.New("server.max_body_bytes must not be negative")
	}
	if c.Public.Root == "" {
		return errors.New("public.root is required")
	}
	if c.Storage.DBPath == "" {
		return errors.New("storage.db_path is required")
	}
	if c.Auth.TokenTTL < 0 {
		return errors.New("auth.token_ttl must not be negative")
	}
	if c.Auth.SweepCron != "" && !gronx.IsValid(c.Auth.SweepCron) {
		return fmt.Errorf("invalid auth.sweep_cron: %q", c.Auth.SweepCron)
	}
	if c.Auth.BcryptCost != 0 && (c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost) {
		return fmt.Errorf("auth.bcrypt_cost out of range: %d", c.Auth.BcryptCost)
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		return errors.New("rate_limit.burst must be positive when rps is set")
	}
	return nil
}

// Addrs lists the listen addresses in the order they should be tried.
func (c *Config) Addrs() []string {
	out := make([]string, 0, len(c.Server.Ports))
	for _, p := range c.Server.Ports {
		out = append(out, net.JoinHostPort(c.Server.Host, strconv.Itoa(p)))
	}
	return out
}
