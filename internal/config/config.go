package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	SchedAPI struct {
		BaseURL         string  `yaml:"base_url"`
		APIKey          string  `yaml:"api_key"`
		CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
		RatePerSecond   float64 `yaml:"rate_per_second"`
		RateBurst       int     `yaml:"rate_burst"`
	} `yaml:"sched_api"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Booking struct {
		MaxRangeDays           int    `yaml:"max_range_days"`
		DefaultVisitorTimezone string `yaml:"default_visitor_timezone"`
	} `yaml:"booking"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	return &cfg, nil
}

func (c *Config) CacheTTL() time.Duration {
	if c.SchedAPI.CacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.SchedAPI.CacheTTLSeconds) * time.Second
}

func (c *Config) FetchRate() (perSecond float64, burst int) {
	perSecond = c.SchedAPI.RatePerSecond
	if perSecond <= 0 {
		perSecond = 10
	}
	burst = c.SchedAPI.RateBurst
	if burst <= 0 {
		burst = 20
	}
	return perSecond, burst
}

func (c *Config) MaxRangeDays() int {
	if c.Booking.MaxRangeDays <= 0 {
		return 90
	}
	return c.Booking.MaxRangeDays
}

func (c *Config) VisitorTimezone() string {
	if c.Booking.DefaultVisitorTimezone == "" {
		return "UTC"
	}
	return c.Booking.DefaultVisitorTimezone
}
