// file: internal/config/config.go
// version: 2.1.0
// guid: 7b8c9d0e-1f2a-3b4c-5d6e-7f8a9b0c1d2e

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	StorageType      string // "pebble" (default), "sqlite" or "memory"
	StoragePath      string
	EnableSQLite     bool // Must be true to use SQLite (safety flag)
	MemoryQuotaBytes int64
	CacheNamespace   string

	APIBaseURL   string
	APITimeout   time.Duration
	APIRateLimit float64
	APIBurst     int

	CredentialsFile string
	LogLevel        string

	Host string
	Port int
	// DaemonToken, when set, must accompany every daemon request except
	// health checks and metrics.
	DaemonToken string
	// DaemonRateLimit is requests per minute per daemon client.
	DaemonRateLimit int

	// TTLOverrides replaces catalog TTLs by resource name (ttl.<resource>).
	TTLOverrides map[string]time.Duration
}

var AppConfig Config

// DataDir is where the cache and credential file live by default.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".erpcache"
	}
	return filepath.Join(home, ".erpcache")
}

// SetDefaults registers default values with viper.
func SetDefaults() {
	viper.SetDefault("storage_type", "pebble")
	viper.SetDefault("storage_path", filepath.Join(DataDir(), "cache"))
	viper.SetDefault("enable_sqlite3_i_know_the_risks", false)
	viper.SetDefault("memory_quota_bytes", 5<<20)
	viper.SetDefault("cache_namespace", "erp:")
	viper.SetDefault("api_base_url", "http://localhost:8080/api/v1")
	viper.SetDefault("api_timeout", 30*time.Second)
	viper.SetDefault("api_rate_limit", 10.0)
	viper.SetDefault("api_burst", 20)
	viper.SetDefault("credentials_file", filepath.Join(DataDir(), "token.json"))
	viper.SetDefault("log_level", "info")
	viper.SetDefault("host", "localhost")
	viper.SetDefault("port", 8484)
	viper.SetDefault("daemon_token", "")
	viper.SetDefault("daemon_rate_limit", 600)
}

// InitConfig initializes the application configuration
func InitConfig() error {
	SetDefaults()

	AppConfig = Config{
		StorageType:      strings.ToLower(viper.GetString("storage_type")),
		StoragePath:      viper.GetString("storage_path"),
		EnableSQLite:     viper.GetBool("enable_sqlite3_i_know_the_risks"),
		MemoryQuotaBytes: viper.GetInt64("memory_quota_bytes"),
		CacheNamespace:   viper.GetString("cache_namespace"),
		APIBaseURL:       viper.GetString("api_base_url"),
		APITimeout:       viper.GetDuration("api_timeout"),
		APIRateLimit:     viper.GetFloat64("api_rate_limit"),
		APIBurst:         viper.GetInt("api_burst"),
		CredentialsFile:  viper.GetString("credentials_file"),
		LogLevel:         viper.GetString("log_level"),
		Host:             viper.GetString("host"),
		Port:             viper.GetInt("port"),
		DaemonToken:      viper.GetString("daemon_token"),
		DaemonRateLimit:  viper.GetInt("daemon_rate_limit"),
	}

	// Normalize storage type
	if AppConfig.StorageType == "sqlite3" {
		AppConfig.StorageType = "sqlite"
	}
	if AppConfig.StorageType == "" {
		AppConfig.StorageType = "pebble"
	}

	ttls, err := loadTTLOverrides()
	if err != nil {
		return err
	}
	AppConfig.TTLOverrides = ttls

	return AppConfig.Validate()
}

// Validate rejects settings the rest of the program cannot work with.
func (c Config) Validate() error {
	switch c.StorageType {
	case "pebble", "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported storage_type %q (want pebble, sqlite or memory)", c.StorageType)
	}
	if c.StorageType != "memory" && c.StoragePath == "" {
		return fmt.Errorf("storage_path is required for %s storage", c.StorageType)
	}
	if c.APITimeout < 0 {
		return fmt.Errorf("api_timeout must not be negative")
	}
	if c.APIRateLimit < 0 {
		return fmt.Errorf("api_rate_limit must not be negative")
	}
	if c.DaemonRateLimit < 0 {
		return fmt.Errorf("daemon_rate_limit must not be negative")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	return nil
}

// Addr is the daemon listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TTLNames returns the resources with a TTL override, sorted.
func (c Config) TTLNames() []string {
	names := make([]string, 0, len(c.TTLOverrides))
	for name := range c.TTLOverrides {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func loadTTLOverrides() (map[string]time.Duration, error) {
	out := map[string]time.Duration{}
	for name := range viper.GetStringMap("ttl") {
		raw := viper.GetString("ttl." + name)
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid ttl.%s %q: %w", name, raw, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("ttl.%s must be positive, got %s", name, raw)
		}
		out[name] = d
	}
	return out, nil
}
