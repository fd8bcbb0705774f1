// Package config loads and validates harness configuration from YAML files,
// dotenv files and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Targets       TargetsConfig       `yaml:"targets"`
	Client        ClientConfig        `yaml:"client"`
	Fixtures      FixturesConfig      `yaml:"fixtures"`
	Suite         SuiteConfig         `yaml:"suite"`
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Store         StoreConfig         `yaml:"store"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// TargetsConfig holds the base URLs of the service under test.
type TargetsConfig struct {
	RESTBaseURL    string `yaml:"rest_base_url"`
	GraphQLBaseURL string `yaml:"graphql_base_url"`
	GraphQLPath    string `yaml:"graphql_path"`
}

// ClientConfig describes the transport client.
type ClientConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// FixturesConfig points at an on-disk fixture tree. Empty means the
// embedded fixtures.
type FixturesConfig struct {
	Directory string `yaml:"directory"`
}

// SuiteConfig describes scenario execution.
type SuiteConfig struct {
	Parallelism     int           `yaml:"parallelism"`
	ScenarioTimeout time.Duration `yaml:"scenario_timeout"`
	IdentityPrefix  string        `yaml:"identity_prefix"`
}

// ServerConfig describes the reference service HTTP server.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// IdentityConfig describes tokens issued by the reference service.
type IdentityConfig struct {
	Issuer   string        `yaml:"issuer"`
	Audience string        `yaml:"audience"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// StoreConfig describes user persistence for the reference service.
type StoreConfig struct {
	Driver    string `yaml:"driver"`
	AddrEnv   string `yaml:"addr_env"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
// LogOutput is a zap output path such as stdout, stderr or a file path.
type ObservabilityConfig struct {
	LogLevel  string        `yaml:"log_level"`
	LogOutput string        `yaml:"log_output"`
	Tracing   TracingConfig `yaml:"tracing"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Store drivers.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Targets: TargetsConfig{
			GraphQLPath: "/graphql",
		},
		Client: ClientConfig{
			Timeout: 10 * time.Second,
		},
		Suite: SuiteConfig{
			Parallelism:     4,
			ScenarioTimeout: 30 * time.Second,
			IdentityPrefix:  "parity",
		},
		Server: ServerConfig{
			Port:            3000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Identity: IdentityConfig{
			Issuer:   "checkout-twin",
			Audience: "checkout-api",
			TokenTTL: time.Hour,
		},
		Store: StoreConfig{
			Driver:    StoreMemory,
			AddrEnv:   "PARITY_REDIS_ADDR",
			KeyPrefix: "checkout:",
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "stdout",
				SamplingRate: 1.0,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads an optional YAML config file, applies dotenv and environment
// variable overrides, and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE files into the process environment. Missing
// files are skipped; variables already set are never overwritten.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: loading %s: %w", p, err)
		}
	}
	return nil
}

// Validate checks that all fields are consistent.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	switch c.Store.Driver {
	case StoreMemory, StoreRedis:
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported (memory, redis)", c.Store.Driver))
	}
	if c.Suite.Parallelism < 1 {
		errs = append(errs, "suite.parallelism must be at least 1")
	}
	if c.Identity.TokenTTL <= 0 {
		errs = append(errs, "identity.token_ttl must be positive")
	}
	if c.Targets.RESTBaseURL != "" && !validBaseURL(c.Targets.RESTBaseURL) {
		errs = append(errs, "targets.rest_base_url must be an absolute http(s) URL")
	}
	if c.Targets.GraphQLBaseURL != "" && !validBaseURL(c.Targets.GraphQLBaseURL) {
		errs = append(errs, "targets.graphql_base_url must be an absolute http(s) URL")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// RequireTargets checks that both base URLs are present. Only runs against a
// live service need them.
func (c *Config) RequireTargets() error {
	var missing []string
	if c.Targets.RESTBaseURL == "" {
		missing = append(missing, "BASE_URL_REST")
	}
	if c.Targets.GraphQLBaseURL == "" {
		missing = append(missing, "BASE_URL_GRAPHQL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing targets: %s", strings.Join(missing, ", "))
	}
	return nil
}

func validBaseURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// applyEnvOverrides reads the target URLs and PARITY_* environment variables.
// BASE_URL_REST and BASE_URL_GRAPHQL keep the names the suites have always used.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BASE_URL_REST"); v != "" {
		cfg.Targets.RESTBaseURL = v
	}
	if v := os.Getenv("BASE_URL_GRAPHQL"); v != "" {
		cfg.Targets.GraphQLBaseURL = v
	}
	if v := os.Getenv("PARITY_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PARITY_SUITE_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Suite.Parallelism = n
		}
	}
	if v := os.Getenv("PARITY_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("PARITY_FIXTURES_DIR"); v != "" {
		cfg.Fixtures.Directory = v
	}
	if v := os.Getenv("PARITY_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
