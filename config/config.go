// Package config loads the YAML configuration of a relmap deployment:
// the database, the connecting user, the pool, the domain file, the
// static data cache and logging. Values may reference environment
// variables as ${NAME} or ${NAME:-default}.
//
//	database:
//	  dialect: postgres
//	  host: ${PGHOST:-localhost}
//	  name: scott
//	user:
//	  username: scott
//	  password: ${SCOTT_PASSWORD}
//	pool:
//	  max_size: 16
//	  idle_timeout: 2m
//	domain: scott.yaml
//	functions:
//	  scott.total_sal: SELECT SUM(sal) FROM emp WHERE deptno = ?
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/syssam/relmap/database"
	"github.com/syssam/relmap/database/pool"
	"github.com/syssam/relmap/domain"
)

// ErrInvalid is returned for incomplete or inconsistent configurations.
var ErrInvalid = errors.New("config: invalid")

// Config is the configuration file.
type Config struct {
	Database database.Config `yaml:"database"`
	User     database.User   `yaml:"user"`
	Pool     pool.Settings   `yaml:"pool"`

	// Domain is the path of the domain file, relative to the
	// configuration file.
	Domain string `yaml:"domain"`

	Entity Entity `yaml:"entity"`
	Cache  Cache  `yaml:"cache"`
	Log    Log    `yaml:"log"`

	// Functions and Procedures map operation ids to SQL statements. A
	// function returns the first column of the first row.
	Functions  map[string]string `yaml:"functions"`
	Procedures map[string]string `yaml:"procedures"`

	// SlowQuery is the duration above which statements are logged, 0
	// for none.
	SlowQuery     time.Duration `yaml:"slow_query"`
	MethodLogSize int           `yaml:"method_log_size"`

	path string
}

// Entity configures entity connections.
type Entity struct {
	OptimisticLocking bool `yaml:"optimistic_locking"`
	LimitFetchDepth   bool `yaml:"limit_fetch_depth"`
	Validate          bool `yaml:"validate"`
}

// Cache configures the static data cache. It is disabled without a URL.
type Cache struct {
	URL    string        `yaml:"url"`
	Prefix string        `yaml:"prefix"`
	TTL    time.Duration `yaml:"ttl"`
}

// Log configures the process logger.
type Log struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// Default returns the configuration used for the keys a file leaves out.
func Default() *Config {
	return &Config{
		Pool:   pool.DefaultSettings(),
		Entity: Entity{OptimisticLocking: true, LimitFetchDepth: true},
		Cache:  Cache{TTL: time.Hour},
		Log:    Log{Level: "info", Format: "text"},
	}
}

// Load reads the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	cfg.path = path
	return cfg, nil
}

// Parse decodes a configuration, expanding environment variables and
// validating the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(Expand(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Expand replaces ${NAME} and ${NAME:-default} with the environment
// value of NAME, or the default when NAME is unset or empty.
func Expand(s string) string {
	return os.Expand(s, func(key string) string {
		name, def, hasDefault := strings.Cut(key, ":-")
		if v := os.Getenv(name); v != "" || !hasDefault {
			return v
		}
		return def
	})
}

// Validate checks that the configuration is complete.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Dialect == "" && c.Database.DSN == "" {
		errs = append(errs, fmt.Errorf("%w: database.dialect is required", ErrInvalid))
	}
	if c.User.Username == "" && c.Database.User == "" {
		errs = append(errs, fmt.Errorf("%w: user.username is required", ErrInvalid))
	}
	if err := c.Pool.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("%w: log.format %q", ErrInvalid, c.Log.Format))
	}
	return errors.Join(errs...)
}

// Path returns the path the configuration was loaded from.
func (c *Config) Path() string { return c.path }

// DatabaseUser returns the connecting user, the database user when none
// is configured.
func (c *Config) DatabaseUser() database.User {
	if c.User.Username != "" {
		return c.User
	}
	return database.User{Username: c.Database.User, Password: c.Database.Password}
}

// DomainPath returns the path of the domain file.
func (c *Config) DomainPath() string {
	if c.Domain == "" || filepath.IsAbs(c.Domain) || c.path == "" {
		return c.Domain
	}
	return filepath.Join(filepath.Dir(c.path), c.Domain)
}

// LoadDomain loads the domain file.
func (c *Config) LoadDomain() (*domain.Domain, error) {
	if c.Domain == "" {
		return nil, fmt.Errorf("%w: domain is required", ErrInvalid)
	}
	return domain.LoadFile(c.DomainPath())
}

// Logger returns a logger writing to w as configured.
func (c *Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log.level %q", ErrInvalid, s)
	}
	return level, nil
}
