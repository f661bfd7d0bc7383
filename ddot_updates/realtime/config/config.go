// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/prashtx/ddot-updates/ddot_updates/realtime/util/secret"
)

const (
	DefaultListen      = ":3000"
	DefaultTimezone    = "America/Detroit"
	DefaultMaxAVLAge   = 24 * time.Hour
	DefaultGTFSRefresh = 24 * time.Hour
	DefaultNATSSubject = "gtfsrt.trip-updates"
)

type Config struct {
	Listen   string `yaml:"listen" validate:"required"`
	Timezone string `yaml:"timezone" validate:"required"`

	// GTFSPath and GTFSURL are both optional; without them the schedule
	// must be uploaded to /static/gtfs.
	GTFSPath    string        `yaml:"gtfs_path"`
	GTFSURL     string        `yaml:"gtfs_url" validate:"omitempty,url"`
	GTFSRefresh time.Duration `yaml:"gtfs_refresh" validate:"gt=0"`

	MaxAVLAge        time.Duration `yaml:"max_avl_age" validate:"gt=0"`
	AccumulateDelays bool          `yaml:"accumulate_delays"`
	ServiceDayStart  time.Duration `yaml:"service_day_start" validate:"gte=0,lt=24h"`

	NATSURL     string `yaml:"nats_url" validate:"omitempty,url"`
	NATSSubject string `yaml:"nats_subject" validate:"required"`

	OutputPath string `yaml:"output_path"`

	NATSToken         string `yaml:"-"`
	GTFSAuthorization string `yaml:"-"`

	Location *time.Location `yaml:"-"`
}

func Default() *Config {
	return &Config{
		Listen:      DefaultListen,
		Timezone:    DefaultTimezone,
		GTFSRefresh: DefaultGTFSRefresh,
		MaxAVLAge:   DefaultMaxAVLAge,
		NATSSubject: DefaultNATSSubject,
	}
}

// Load builds the configuration from the defaults, an optional YAML file
// and the environment (a .env file is loaded first, if present).
// Environment variables take precedence over the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	if err := cfg.applyEnvironment(); err != nil {
		return nil, err
	}
	if err := cfg.loadSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}
	cfg.Location = loc
	return cfg, nil
}

func (cfg *Config) Validate() error {
	return validator.New().Struct(cfg)
}

func (cfg *Config) applyEnvironment() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid PORT: %q", v)
		}
		cfg.Listen = ":" + v
	}

	cfg.Timezone = getenvDefault("TRANSIT_TZ", cfg.Timezone)
	cfg.GTFSPath = getenvDefault("GTFS_PATH", cfg.GTFSPath)
	cfg.GTFSURL = getenvDefault("GTFS_URL", cfg.GTFSURL)
	cfg.NATSURL = getenvDefault("NATS_URL", cfg.NATSURL)
	cfg.NATSSubject = getenvDefault("NATS_SUBJECT", cfg.NATSSubject)
	cfg.OutputPath = getenvDefault("OUTPUT_PATH", cfg.OutputPath)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"GTFS_REFRESH", &cfg.GTFSRefresh},
		{"MAX_AVL_AGE", &cfg.MaxAVLAge},
		{"SERVICE_DAY_START", &cfg.ServiceDayStart},
	}
	for _, d := range durations {
		if v := os.Getenv(d.key); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %q", d.key, v)
			}
			*d.dst = parsed
		}
	}

	if v := os.Getenv("ACCUMULATE_DELAYS"); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "t", "yes", "y", "on":
			cfg.AccumulateDelays = true
		case "0", "false", "f", "no", "n", "off":
			cfg.AccumulateDelays = false
		default:
			return fmt.Errorf("invalid ACCUMULATE_DELAYS: %q", v)
		}
	}

	return nil
}

func (cfg *Config) loadSecrets() (err error) {
	if cfg.NATSToken, err = secret.Optional("NATS_TOKEN"); err != nil {
		return
	}
	cfg.GTFSAuthorization, err = secret.Optional("GTFS_AUTHORIZATION")
	return
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
