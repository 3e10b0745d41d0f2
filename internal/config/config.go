package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sosodev/duration"
	"github.com/vjranagit/solarmon/internal/logging"
	"github.com/vjranagit/solarmon/pkg/client"
	"github.com/vjranagit/solarmon/pkg/render"
	"github.com/vjranagit/solarmon/pkg/storage"
	"github.com/vjranagit/solarmon/pkg/types"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	LogLevel string        `toml:"log_level" yaml:"log_level"`
	Client   ClientConfig  `toml:"client" yaml:"client"`
	Server   ServerConfig  `toml:"server" yaml:"server"`
	Storage  StorageConfig `toml:"storage" yaml:"storage"`
}

// ClientConfig holds dashboard client configuration
type ClientConfig struct {
	BaseURL     string   `toml:"base_url" yaml:"base_url"`
	Timeout     Duration `toml:"timeout" yaml:"timeout"`
	RetryCount  int      `toml:"retry_count" yaml:"retry_count"`
	Granularity string   `toml:"granularity" yaml:"granularity"`
	Format      string   `toml:"format" yaml:"format"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	ListenAddr     string   `toml:"listen_addr" yaml:"listen_addr"`
	Timeout        Duration `toml:"timeout" yaml:"timeout"`
	AllowedOrigins []string `toml:"allowed_origins" yaml:"allowed_origins"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Path             string   `toml:"path" yaml:"path"`
	CompressionLevel int      `toml:"compression_level" yaml:"compression_level"`
	CacheCapacity    int      `toml:"cache_capacity" yaml:"cache_capacity"`
	CacheTTL         Duration `toml:"cache_ttl" yaml:"cache_ttl"`
	EnableWAL        bool     `toml:"enable_wal" yaml:"enable_wal"`
	BatchSize        int      `toml:"batch_size" yaml:"batch_size"`
}

// Duration is a time.Duration written either in Go syntax ("90s") or as
// an ISO 8601 duration ("PT90S")
type Duration time.Duration

// ParseDuration parses s in Go or ISO 8601 syntax
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "P") || strings.HasPrefix(s, "-P") {
		d, err := duration.Parse(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		return d.ToTimeDuration(), nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// Std returns d as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// defaults returns the built-in configuration
func defaults() *Config {
	clientCfg := client.DefaultConfig()
	storageCfg := storage.DefaultConfig()

	return &Config{
		LogLevel: "info",
		Client: ClientConfig{
			BaseURL:     clientCfg.BaseURL,
			Timeout:     Duration(clientCfg.Timeout),
			RetryCount:  clientCfg.RetryCount,
			Granularity: string(types.DefaultGranularity),
			Format:      render.FormatTable,
		},
		Server: ServerConfig{
			ListenAddr:     ":9090",
			Timeout:        Duration(30 * time.Second),
			AllowedOrigins: []string{"*"},
		},
		Storage: StorageConfig{
			Path:             storageCfg.Path,
			CompressionLevel: storageCfg.CompressionLevel,
			CacheCapacity:    storageCfg.CacheCapacity,
			CacheTTL:         Duration(storageCfg.CacheTTL),
			EnableWAL:        storageCfg.EnableWAL,
			BatchSize:        storageCfg.BatchSize,
		},
	}
}

// DefaultConfig returns default configuration with environment overrides applied
func DefaultConfig() *Config {
	cfg := defaults()
	cfg.applyEnv()
	return cfg
}

// Load builds the configuration from defaults, an optional TOML or YAML file
// and the environment, in increasing precedence. A .env file in the working
// directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := defaults()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile decodes path over c, picking the decoder by extension
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("failed to decode %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to decode %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config file extension %q", ext)
	}
	return nil
}

// applyEnv overrides c with any environment variables that are set
func (c *Config) applyEnv() {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Client.BaseURL = getEnv("API_URL", c.Client.BaseURL)
	c.Client.Timeout = Duration(getEnvDuration("CLIENT_TIMEOUT", c.Client.Timeout.Std()))
	c.Client.RetryCount = getEnvInt("CLIENT_RETRY_COUNT", c.Client.RetryCount)
	c.Client.Granularity = getEnv("GRANULARITY", c.Client.Granularity)
	c.Client.Format = getEnv("OUTPUT_FORMAT", c.Client.Format)

	c.Server.ListenAddr = getEnv("LISTEN_ADDR", c.Server.ListenAddr)
	c.Server.Timeout = Duration(getEnvDuration("SERVER_TIMEOUT", c.Server.Timeout.Std()))
	c.Server.AllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", c.Server.AllowedOrigins)

	c.Storage.Path = getEnv("STORAGE_PATH", c.Storage.Path)
	c.Storage.CompressionLevel = getEnvInt("COMPRESSION_LEVEL", c.Storage.CompressionLevel)
	c.Storage.CacheCapacity = getEnvInt("CACHE_CAPACITY", c.Storage.CacheCapacity)
	c.Storage.CacheTTL = Duration(getEnvDuration("CACHE_TTL", c.Storage.CacheTTL.Std()))
	c.Storage.EnableWAL = getEnvBool("ENABLE_WAL", c.Storage.EnableWAL)
	c.Storage.BatchSize = getEnvInt("BATCH_SIZE", c.Storage.BatchSize)
}

// ToStorageConfig converts to storage.Config
func (c *Config) ToStorageConfig() *storage.Config {
	return &storage.Config{
		Path:             c.Storage.Path,
		CompressionLevel: c.Storage.CompressionLevel,
		CacheCapacity:    c.Storage.CacheCapacity,
		CacheTTL:         c.Storage.CacheTTL.Std(),
		EnableWAL:        c.Storage.EnableWAL,
		BatchSize:        c.Storage.BatchSize,
	}
}

// ToClientConfig converts to client.Config
func (c *Config) ToClientConfig() client.Config {
	return client.Config{
		BaseURL:    c.Client.BaseURL,
		Timeout:    c.Client.Timeout.Std(),
		RetryCount: c.Client.RetryCount,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	u, err := url.Parse(c.Client.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("client base URL %q must be an absolute URL", c.Client.BaseURL)
	}

	if c.Client.Timeout <= 0 {
		return fmt.Errorf("client timeout must be positive")
	}

	if c.Client.RetryCount < 0 {
		return fmt.Errorf("client retry count must not be negative")
	}

	if _, err := types.ParseGranularity(c.Client.Granularity); err != nil {
		return fmt.Errorf("default granularity: %w", err)
	}

	if _, err := render.New(c.Client.Format, nil); err != nil {
		return fmt.Errorf("output format: %w", err)
	}

	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}

	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server timeout must be positive")
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}

	if c.Storage.CompressionLevel < 1 || c.Storage.CompressionLevel > 4 {
		return fmt.Errorf("compression level must be between 1 and 4")
	}

	if c.Storage.CacheCapacity < 0 {
		return fmt.Errorf("cache capacity must not be negative")
	}

	if c.Storage.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}

	return nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}
