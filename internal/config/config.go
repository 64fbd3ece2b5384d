// Package config loads service and solver settings from an optional YAML or
// TOML file and then applies environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	yaml "gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Redis    RedisConfig    `yaml:"redis" toml:"redis"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Rate     RateConfig     `yaml:"rate" toml:"rate"`
	Webhooks WebhookConfig  `yaml:"webhooks" toml:"webhooks"`
	Solver   SolverConfig   `yaml:"solver" toml:"solver"`
	Log      LogConfig      `yaml:"log" toml:"log"`
}

type ServerConfig struct {
	Port         string `yaml:"port" toml:"port"`
	AllowOrigins string `yaml:"allowOrigins" toml:"allow_origins"`
}

type DatabaseConfig struct {
	URL           string `yaml:"url" toml:"url"`
	Migrate       bool   `yaml:"migrate" toml:"migrate"`
	MigrationsDir string `yaml:"migrationsDir" toml:"migrations_dir"`
}

type RedisConfig struct {
	URL string `yaml:"url" toml:"url"`
}

type AuthConfig struct {
	Mode        string `yaml:"mode" toml:"mode"`
	HMACSecret  string `yaml:"hmacSecret" toml:"hmac_secret"`
	JWKSURL     string `yaml:"jwksUrl" toml:"jwks_url"`
	TenantClaim string `yaml:"tenantClaim" toml:"tenant_claim"`
	RoleClaim   string `yaml:"roleClaim" toml:"role_claim"`
}

// RateConfig limits solve submissions per tenant. RPS <= 0 disables it.
type RateConfig struct {
	RPS   float64 `yaml:"rps" toml:"rps"`
	Burst int     `yaml:"burst" toml:"burst"`
}

type WebhookConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts" toml:"max_attempts"`
	PollInterval time.Duration `yaml:"pollInterval" toml:"poll_interval"`
}

type SolverConfig struct {
	TimeLimit            time.Duration `yaml:"timeLimit" toml:"time_limit"`
	LazyConstraints      bool          `yaml:"lazyConstraints" toml:"lazy_constraints"`
	CutBound             string        `yaml:"cutBound" toml:"cut_bound"`
	SingleCustomerRoutes bool          `yaml:"singleCustomerRoutes" toml:"single_customer_routes"`
	WarmStart            bool          `yaml:"warmStart" toml:"warm_start"`
	WarmStartBudget      time.Duration `yaml:"warmStartBudget" toml:"warm_start_budget"`
	MaxNodes             int           `yaml:"maxNodes" toml:"max_nodes"`
	Workers              int           `yaml:"workers" toml:"workers"`
	InstanceDir          string        `yaml:"instanceDir" toml:"instance_dir"`
	DefaultInstance      string        `yaml:"defaultInstance" toml:"default_instance"`
}

type LogConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"maxBackups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"maxAgeDays" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// Default mirrors the classic driver: a 30 minute limit with lazy
// constraints and instances read from vrp_instances/instance1.vrp.
func Default() Config {
	return Config{
		Server:   ServerConfig{Port: "8080"},
		Database: DatabaseConfig{Migrate: true, MigrationsDir: "db/migrations"},
		Auth:     AuthConfig{Mode: "dev", TenantClaim: "tenant", RoleClaim: "role"},
		Rate:     RateConfig{RPS: 0, Burst: 5},
		Webhooks: WebhookConfig{MaxAttempts: 10, PollInterval: time.Second},
		Solver: SolverConfig{
			TimeLimit:            1800 * time.Second,
			LazyConstraints:      true,
			CutBound:             "rounded",
			SingleCustomerRoutes: true,
			WarmStart:            true,
			WarmStartBudget:      2 * time.Second,
			Workers:              2,
			InstanceDir:          "vrp_instances",
			DefaultInstance:      "instance1.vrp",
		},
		Log: LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 7, MaxAgeDays: 30, Compress: true},
	}
}

// Load reads path (when non-empty) over the defaults, choosing the decoder by
// extension, and then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config %s: unsupported extension", path)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []string
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = n
		}
	}
	flt := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = f
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = b
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			// bare numbers are seconds
			if secs, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = time.Duration(secs * float64(time.Second))
				return
			}
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = d
		}
	}

	str("PORT", &c.Server.Port)
	str("ALLOW_ORIGINS", &c.Server.AllowOrigins)
	str("DATABASE_URL", &c.Database.URL)
	flag("DB_MIGRATE", &c.Database.Migrate)
	str("DB_MIGRATIONS_DIR", &c.Database.MigrationsDir)
	str("REDIS_URL", &c.Redis.URL)
	str("AUTH_MODE", &c.Auth.Mode)
	str("AUTH_HMAC_SECRET", &c.Auth.HMACSecret)
	str("AUTH_JWKS_URL", &c.Auth.JWKSURL)
	str("AUTH_TENANT_CLAIM", &c.Auth.TenantClaim)
	str("AUTH_ROLE_CLAIM", &c.Auth.RoleClaim)
	flt("RATE_RPS", &c.Rate.RPS)
	num("RATE_BURST", &c.Rate.Burst)
	num("WEBHOOK_MAX_ATTEMPTS", &c.Webhooks.MaxAttempts)
	dur("WEBHOOK_POLL_INTERVAL", &c.Webhooks.PollInterval)
	dur("SOLVER_TIME_LIMIT", &c.Solver.TimeLimit)
	flag("SOLVER_LAZY_CONSTRAINTS", &c.Solver.LazyConstraints)
	str("SOLVER_CUT_BOUND", &c.Solver.CutBound)
	flag("SOLVER_SINGLE_CUSTOMER_ROUTES", &c.Solver.SingleCustomerRoutes)
	flag("SOLVER_WARM_START", &c.Solver.WarmStart)
	dur("SOLVER_WARM_START_BUDGET", &c.Solver.WarmStartBudget)
	num("SOLVER_MAX_NODES", &c.Solver.MaxNodes)
	num("SOLVER_WORKERS", &c.Solver.Workers)
	str("INSTANCE_DIR", &c.Solver.InstanceDir)
	str("DEFAULT_INSTANCE", &c.Solver.DefaultInstance)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid value for %s", strings.Join(errs, ", "))
	}
	return nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	if c.Solver.TimeLimit < 0 {
		return fmt.Errorf("config: solver time limit %s is negative", c.Solver.TimeLimit)
	}
	if c.Solver.Workers < 1 {
		return fmt.Errorf("config: solver workers must be at least 1, got %d", c.Solver.Workers)
	}
	switch strings.ToLower(c.Solver.CutBound) {
	case "rounded", "fractional":
	default:
		return fmt.Errorf("config: unknown cut bound %q", c.Solver.CutBound)
	}
	switch c.Auth.Mode {
	case "dev", "hmac", "jwks":
	default:
		return fmt.Errorf("config: unknown auth mode %q", c.Auth.Mode)
	}
	if c.Webhooks.MaxAttempts < 1 {
		return fmt.Errorf("config: webhook max attempts must be at least 1")
	}
	return nil
}

// InstancePath is the default instance file inside the instance directory.
func (c Config) InstancePath() string {
	return filepath.Join(c.Solver.InstanceDir, c.Solver.DefaultInstance)
}
