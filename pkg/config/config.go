package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultPath is the config file read by Load when present.
const DefaultPath = "config.yaml"

// Config holds all configuration for cubedash-engine.
// Configuration can come from a YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1" validate:"required"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080" validate:"required,numeric"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info" validate:"oneof=debug info warn error"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (the ODC index, PostgreSQL with PostGIS)
	Database DatabaseConfig `yaml:"database"`

	// Summary generation
	Generation GenerationConfig `yaml:"generation"`

	// Read API
	API APIConfig `yaml:"api"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host             string        `yaml:"host" env:"PGHOST" env-default:"localhost" validate:"required"`
	Port             int           `yaml:"port" env:"PGPORT" env-default:"5432" validate:"min=1,max=65535"`
	User             string        `yaml:"user" env:"PGUSER" env-default:"cubedash"`
	Password         string        `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database         string        `yaml:"database" env:"PGDATABASE" env-default:"datacube" validate:"required"`
	MaxConnections   int32         `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10" validate:"min=1"`
	SSLMode          string        `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"prefer" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	// Zero leaves the server's statement_timeout in place.
	StatementTimeout time.Duration `yaml:"statement_timeout" env:"PG_STATEMENT_TIMEOUT" env-default:"0s" validate:"min=0"`
}

// GenerationConfig controls summary generation runs.
type GenerationConfig struct {
	// Products generated in parallel, each with its own connection pool.
	Jobs int `yaml:"jobs" env:"GEN_JOBS" env-default:"3" validate:"min=1,max=64"`
	// Time zone whose calendar days, months and years group datasets.
	GroupingTimeZone string `yaml:"grouping_time_zone" env:"GEN_GROUPING_TIME_ZONE" env-default:"UTC" validate:"required,timezone"`
	// Products refreshed more recently than this are left alone.
	RefreshOlderThan time.Duration `yaml:"refresh_older_than" env:"GEN_REFRESH_OLDER_THAN" env-default:"24h"`
	// Retries of a product failing with a transient error.
	MaxRetries int `yaml:"max_retries" env:"GEN_MAX_RETRIES" env-default:"3" validate:"min=0,max=10"`
}

// APIConfig configures the HTTP and MCP read API.
type APIConfig struct {
	// On-demand summary generations per second for periods never generated. Zero disables them.
	SummaryRateLimit float64 `yaml:"summary_rate_limit" env:"SUMMARY_RATE_LIMIT" env-default:"2" validate:"gte=0"`
	SummaryRateBurst int     `yaml:"summary_rate_burst" env:"SUMMARY_RATE_BURST" env-default:"4" validate:"min=1"`
	// Most dataset footprints returned by one request.
	MaxFootprints int `yaml:"max_footprints" env:"MAX_FOOTPRINTS" env-default:"1000" validate:"min=1"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Load reads config.yaml, if present, with environment variable overrides.
// Without the file, configuration comes from the environment alone.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFile(DefaultPath, version)
}

// LoadFile is Load reading the YAML file at path.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	_, err := os.Stat(path)
	switch {
	case err == nil:
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.Database.Host = resolveHostForDocker(cfg.Database.Host)
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	return validatorInstance().Struct(c)
}

// ListenAddr is the address the API server binds.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.BindAddr, c.Port)
}

// ConnectionString returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Database,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else if c.User != "" {
		u.User = url.User(c.User)
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Location loads the grouping time zone.
func (g *GenerationConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(g.GroupingTimeZone)
	if err != nil {
		return nil, fmt.Errorf("unknown grouping time zone %q: %w", g.GroupingTimeZone, err)
	}
	return loc, nil
}

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// isRunningInDocker reports whether /.dockerenv exists. Cached after the first call.
func isRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// resolveHostForDocker points a loopback database host at the Docker host
// when running inside a container, where the index usually lives outside.
func resolveHostForDocker(host string) string {
	if !isRunningInDocker() {
		return host
	}
	if host == "localhost" || host == "127.0.0.1" {
		return "host.docker.internal"
	}
	return host
}
