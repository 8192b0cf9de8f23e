// file: internal/config/persistence.go
// version: 2.1.0
// guid: 9c8d7e6f-5a4b-3c2d-1e0f-9a8b7c6d5e4f

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the config file read when --config is not given.
const DefaultConfigFile = ".erpcache.yaml"

// ConfigFilePath returns the config file in use, or the default location in
// the home directory.
func ConfigFilePath() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return DefaultConfigFile
	}
	return filepath.Join(home, DefaultConfigFile)
}

// fileConfig is the on-disk layout written by SaveConfigToFile.
type fileConfig struct {
	StorageType      string            `yaml:"storage_type"`
	StoragePath      string            `yaml:"storage_path"`
	EnableSQLite     bool              `yaml:"enable_sqlite3_i_know_the_risks"`
	MemoryQuotaBytes int64             `yaml:"memory_quota_bytes"`
	CacheNamespace   string            `yaml:"cache_namespace"`
	APIBaseURL       string            `yaml:"api_base_url"`
	APITimeout       string            `yaml:"api_timeout"`
	APIRateLimit     float64           `yaml:"api_rate_limit"`
	APIBurst         int               `yaml:"api_burst"`
	CredentialsFile  string            `yaml:"credentials_file"`
	LogLevel         string            `yaml:"log_level"`
	Host             string            `yaml:"host"`
	Port             int               `yaml:"port"`
	DaemonToken      string            `yaml:"daemon_token,omitempty"`
	DaemonRateLimit  int               `yaml:"daemon_rate_limit"`
	TTL              map[string]string `yaml:"ttl,omitempty"`
}

// SaveConfigToFile writes the current AppConfig to path as YAML. An empty
// path means ConfigFilePath().
func SaveConfigToFile(path string) (string, error) {
	if path == "" {
		path = ConfigFilePath()
	}

	out := fileConfig{
		StorageType:      AppConfig.StorageType,
		StoragePath:      AppConfig.StoragePath,
		EnableSQLite:     AppConfig.EnableSQLite,
		MemoryQuotaBytes: AppConfig.MemoryQuotaBytes,
		CacheNamespace:   AppConfig.CacheNamespace,
		APIBaseURL:       AppConfig.APIBaseURL,
		APITimeout:       AppConfig.APITimeout.String(),
		APIRateLimit:     AppConfig.APIRateLimit,
		APIBurst:         AppConfig.APIBurst,
		CredentialsFile:  AppConfig.CredentialsFile,
		LogLevel:         AppConfig.LogLevel,
		Host:             AppConfig.Host,
		Port:             AppConfig.Port,
		DaemonToken:      AppConfig.DaemonToken,
		DaemonRateLimit:  AppConfig.DaemonRateLimit,
	}
	if len(AppConfig.TTLOverrides) > 0 {
		out.TTL = make(map[string]string, len(AppConfig.TTLOverrides))
		for name, d := range AppConfig.TTLOverrides {
			out.TTL[name] = d.String()
		}
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}

// LoadConfigFromFile reads path into viper and rebuilds AppConfig.
func LoadConfigFromFile(path string) error {
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return InitConfig()
}
