// Package config loads graphd configuration.
//
// Precedence, lowest to highest: built-in defaults, the YAML config file,
// environment variables, command-line flags. The CLI applies the
// environment and then its flags on the value Load returns, before
// Validate.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/graphd/internal/admission"
	"github.com/roach88/graphd/internal/engine"
	"github.com/roach88/graphd/internal/lifecycle"
	"github.com/roach88/graphd/internal/logging"
	"github.com/roach88/graphd/internal/session"
	"github.com/roach88/graphd/internal/source"
	"github.com/roach88/graphd/internal/txn"
)

// Config is the complete graphd configuration.
type Config struct {
	// DataDir is the store directory, typically a mounted volume.
	DataDir string `yaml:"data_dir"`

	// SchemaFile is an optional CUE file declaring node and edge types.
	SchemaFile string `yaml:"schema_file,omitempty"`

	// Workers is the number of requests executed in parallel.
	Workers int `yaml:"workers"`

	// ShutdownGrace bounds how long shutdown waits for open transactions
	// before force-aborting them.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	Log     LogConfig     `yaml:"log"`
	Store   StoreConfig   `yaml:"store"`
	Queue   QueueConfig   `yaml:"queue"`
	Txn     TxnConfig     `yaml:"txn"`
	Session SessionConfig `yaml:"session"`
	Import  ImportConfig  `yaml:"import"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig configures the embedded engine.
type StoreConfig struct {
	MaxReaders  int           `yaml:"max_readers"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// QueueConfig configures admission.
type QueueConfig struct {
	Depth   int           `yaml:"depth"`
	Timeout time.Duration `yaml:"timeout"`
	Rate    float64       `yaml:"rate"`
	Burst   int           `yaml:"burst"`
}

// TxnConfig configures the transaction coordinator.
type TxnConfig struct {
	LockWait         time.Duration `yaml:"lock_wait"`
	MaxWriteDuration time.Duration `yaml:"max_write_duration"`
	MaxReadDuration  time.Duration `yaml:"max_read_duration"`
}

// SessionConfig configures the session manager.
type SessionConfig struct {
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	Retention    time.Duration `yaml:"retention"`
	ReapInterval time.Duration `yaml:"reap_interval"`
}

// ImportConfig configures the import command's relational source.
type ImportConfig struct {
	// Postgres is a PostgreSQL connection URL. Empty means the source is
	// given on the command line.
	Postgres string `yaml:"postgres,omitempty"`
	// Schema is the PostgreSQL schema whose tables are imported.
	Schema string `yaml:"schema"`
}

// Environment variables read by ApplyEnv.
const (
	EnvDataDir          = "GRAPHD_DATA_DIR"
	EnvPostgresUser     = "POSTGRES_USER"
	EnvPostgresPassword = "POSTGRES_PASSWORD"
	EnvPostgresHost     = "POSTGRES_HOST"
	EnvPostgresPort     = "POSTGRES_PORT"
	EnvPostgresDB       = "POSTGRES_DB"
	EnvPostgresSchema   = "POSTGRES_SCHEMA"
)

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		DataDir:       "/data",
		Workers:       runtime.GOMAXPROCS(0),
		ShutdownGrace: 10 * time.Second,
		Log:           LogConfig{Level: "info", Format: "text"},
		Store:         StoreConfig{MaxReaders: 32, BusyTimeout: 5 * time.Second},
		Queue:         QueueConfig{Depth: 1024, Timeout: 30 * time.Second},
		Txn: TxnConfig{
			LockWait:         5 * time.Second,
			MaxWriteDuration: time.Minute,
			MaxReadDuration:  5 * time.Minute,
		},
		Session: SessionConfig{
			IdleTimeout:  session.DefaultIdleTimeout,
			Retention:    session.DefaultRetention,
			ReapInterval: session.DefaultReapInterval,
		},
		Import: ImportConfig{Schema: source.DefaultSchema},
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path returns the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := decode(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables read through lookup, usually
// os.LookupEnv. GRAPHD_DATA_DIR sets the data directory. Setting
// POSTGRES_HOST or POSTGRES_DB composes the import source URL from the
// POSTGRES_* variables; unset parts default to postgres@localhost:5432.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return def
	}

	c.DataDir = get(EnvDataDir, c.DataDir)
	c.Import.Schema = get(EnvPostgresSchema, c.Import.Schema)

	host, db := get(EnvPostgresHost, ""), get(EnvPostgresDB, "")
	if host == "" && db == "" {
		return
	}
	c.Import.Postgres = source.PostgresConfig{
		User:     get(EnvPostgresUser, "postgres"),
		Password: get(EnvPostgresPassword, ""),
		Host:     get(EnvPostgresHost, "localhost"),
		Port:     get(EnvPostgresPort, "5432"),
		Database: get(EnvPostgresDB, "postgres"),
	}.DSN()
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.DataDir != "", "data_dir must be set")
	check(c.Workers > 0, "workers must be positive, got %d", c.Workers)
	check(c.ShutdownGrace > 0, "shutdown_grace must be positive, got %s", c.ShutdownGrace)
	check(c.Store.MaxReaders > 0, "store.max_readers must be positive, got %d", c.Store.MaxReaders)
	check(c.Store.BusyTimeout > 0, "store.busy_timeout must be positive, got %s", c.Store.BusyTimeout)
	check(c.Queue.Depth > 0, "queue.depth must be positive, got %d", c.Queue.Depth)
	check(c.Queue.Timeout >= 0, "queue.timeout must not be negative")
	check(c.Queue.Rate >= 0, "queue.rate must not be negative")
	check(c.Queue.Rate == 0 || c.Queue.Burst > 0, "queue.burst must be positive when queue.rate is set")
	check(c.Txn.LockWait > 0, "txn.lock_wait must be positive, got %s", c.Txn.LockWait)
	check(c.Txn.MaxWriteDuration > 0, "txn.max_write_duration must be positive, got %s", c.Txn.MaxWriteDuration)
	check(c.Txn.MaxReadDuration > 0, "txn.max_read_duration must be positive, got %s", c.Txn.MaxReadDuration)
	check(c.Session.IdleTimeout > 0, "session.idle_timeout must be positive, got %s", c.Session.IdleTimeout)
	check(c.Session.Retention > 0, "session.retention must be positive, got %s", c.Session.Retention)
	check(c.Session.ReapInterval > 0, "session.reap_interval must be positive, got %s", c.Session.ReapInterval)
	check(c.Import.Schema != "", "import.schema must be set")

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		errs = append(errs, fmt.Errorf("log.format: %w", err))
	}
	return errors.Join(errs...)
}

// Engine returns the service core configuration.
func (c Config) Engine() engine.Config {
	return engine.Config{
		Workers: c.Workers,
		Queue: admission.Config{
			MaxDepth: c.Queue.Depth,
			Timeout:  c.Queue.Timeout,
			Rate:     c.Queue.Rate,
			Burst:    c.Queue.Burst,
		},
		Txn: txn.Config{
			LockWait:         c.Txn.LockWait,
			MaxWriteDuration: c.Txn.MaxWriteDuration,
			MaxReadDuration:  c.Txn.MaxReadDuration,
		},
		Session: session.Config{
			IdleTimeout:  c.Session.IdleTimeout,
			Retention:    c.Session.Retention,
			ReapInterval: c.Session.ReapInterval,
		},
	}
}

// Lifecycle returns the store lifecycle configuration.
func (c Config) Lifecycle() lifecycle.Config {
	return lifecycle.Config{
		MaxReaders:  c.Store.MaxReaders,
		BusyTimeout: c.Store.BusyTimeout,
	}
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
