package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. TABLESERVE_SERVER_PORT.
const EnvPrefix = "TABLESERVE_"

// DefaultSQLiteFile is the routing table file of the sqlite provider when no dsn is set.
const DefaultSQLiteFile = "database.db"

type Config struct {
	Server ServerConfig `yaml:"server"`
	Routes RoutesConfig `yaml:"routes"`
	Blobs  BlobsConfig  `yaml:"blobs"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// MetricsPort serves /metrics; 0 disables the metrics listener.
	MetricsPort int `yaml:"metricsPort"`

	ReadHeaderTimeout string `yaml:"readHeaderTimeout"`
	ShutdownTimeout   string `yaml:"shutdownTimeout"`

	// RPS is the request rate limit; 0 disables limiting.
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`

	// compiled
	readHeaderTimeout time.Duration
	shutdownTimeout   time.Duration
}

type RoutesConfig struct {
	// Provider is one of sqlite, postgres, memory.
	Provider string `yaml:"provider"`
	// DSN is the database file or connection string.
	DSN string `yaml:"dsn"`
	// File is the YAML routes snapshot of the memory provider.
	File     string `yaml:"file"`
	Sentinel string `yaml:"sentinel"`
}

type BlobsConfig struct {
	// Provider is one of filesystem, leveldb.
	Provider string `yaml:"provider"`
	// Root is the web root directory or the LevelDB path.
	Root string `yaml:"root"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

func (s ServerConfig) ReadHeaderTimeoutDuration() time.Duration { return s.readHeaderTimeout }
func (s ServerConfig) ShutdownTimeoutDuration() time.Duration   { return s.shutdownTimeout }

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: "5s",
			ShutdownTimeout:   "30s",
		},
		Routes: RoutesConfig{
			Provider: "sqlite",
			Sentinel: "~notfound",
		},
		Blobs: BlobsConfig{
			Provider: "filesystem",
			Root:     "www",
		},
		Log: LogConfig{Level: "debug"},
	}
}

// Load reads the YAML file at path on top of the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadEnvFiles loads .env style files into the environment. Missing files are skipped;
// variables already set win.
func LoadEnvFiles(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"SERVER_READ_HEADER_TIMEOUT": &c.Server.ReadHeaderTimeout,
		"SERVER_SHUTDOWN_TIMEOUT":    &c.Server.ShutdownTimeout,
		"ROUTES_PROVIDER":            &c.Routes.Provider,
		"ROUTES_DSN":                 &c.Routes.DSN,
		"ROUTES_FILE":                &c.Routes.File,
		"ROUTES_SENTINEL":            &c.Routes.Sentinel,
		"BLOBS_PROVIDER":             &c.Blobs.Provider,
		"BLOBS_ROOT":                 &c.Blobs.Root,
		"LOG_LEVEL":                  &c.Log.Level,
		"LOG_FILE":                   &c.Log.File,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	ints := map[string]*int{
		"SERVER_PORT":         &c.Server.Port,
		"SERVER_METRICS_PORT": &c.Server.MetricsPort,
		"SERVER_BURST":        &c.Server.Burst,
	}
	for key, dst := range ints {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}
	if v, ok := lookup(EnvPrefix + "SERVER_RPS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sSERVER_RPS: %w", EnvPrefix, err)
		}
		c.Server.RPS = f
	}
	return nil
}

// Validate checks the configuration and compiles the duration strings.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("server.metricsPort: %d out of range", c.Server.MetricsPort)
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.Port {
		return fmt.Errorf("server.metricsPort must differ from server.port")
	}
	var err error
	if c.Server.readHeaderTimeout, err = time.ParseDuration(c.Server.ReadHeaderTimeout); err != nil {
		return fmt.Errorf("server.readHeaderTimeout: %w", err)
	}
	if c.Server.shutdownTimeout, err = time.ParseDuration(c.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("server.shutdownTimeout: %w", err)
	}
	if c.Server.RPS < 0 {
		return fmt.Errorf("server.rps must not be negative")
	}
	if c.Server.RPS > 0 && c.Server.Burst <= 0 {
		c.Server.Burst = int(c.Server.RPS)
		if c.Server.Burst < 1 {
			c.Server.Burst = 1
		}
	}

	c.Routes.Provider = strings.ToLower(c.Routes.Provider)
	switch c.Routes.Provider {
	case "sqlite":
		if c.Routes.DSN == "" {
			c.Routes.DSN = DefaultSQLiteFile
		}
	case "postgres":
		if c.Routes.DSN == "" {
			return fmt.Errorf("routes.dsn is required for the postgres provider")
		}
	case "memory":
		if c.Routes.File == "" {
			return fmt.Errorf("routes.file is required for the memory provider")
		}
	default:
		return fmt.Errorf("routes.provider: unknown provider %q", c.Routes.Provider)
	}
	if c.Routes.Sentinel == "" {
		return fmt.Errorf("routes.sentinel must not be empty")
	}

	c.Blobs.Provider = strings.ToLower(c.Blobs.Provider)
	switch c.Blobs.Provider {
	case "filesystem", "leveldb":
	default:
		return fmt.Errorf("blobs.provider: unknown provider %q", c.Blobs.Provider)
	}
	if c.Blobs.Root == "" {
		return fmt.Errorf("blobs.root is required")
	}

	if _, err := c.Log.ZerologLevel(); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// ZerologLevel parses the configured log level.
func (l LogConfig) ZerologLevel() (zerolog.Level, error) {
	if l.Level == "" {
		return zerolog.DebugLevel, nil
	}
	return zerolog.ParseLevel(strings.ToLower(l.Level))
}
