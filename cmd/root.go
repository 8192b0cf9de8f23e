// file: cmd/root.go
// version: 2.0.0
// guid: 6a7b8c9d-0e1f-2a3b-4c5d-6e7f8a9b0c1d

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/jdfalk/erpcache/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is stamped at build time.
var Version = "dev"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "erpcache",
	Short: "Client-side cache for the school ERP backend",
	Long: `erpcache keeps a durable, TTL-bounded copy of ERP resources (schools,
books, topics, inventory, finance, profile, notifications, dashboards) so
repeated reads are served locally and concurrent reads share one request.

The cache lives exactly as long as the login session: logging out, or the
backend rejecting the credential, flushes everything but the credential.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.InitConfig()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.erpcache.yaml)")
	rootCmd.PersistentFlags().String("storage-type", "pebble", "storage backend: pebble (default), sqlite or memory")
	rootCmd.PersistentFlags().String("storage-path", "", "path of the cache store (default ~/.erpcache/cache)")
	rootCmd.PersistentFlags().Bool("enable-sqlite3-i-know-the-risks", false, "enable the SQLite3 backend (WARNING: cross-compilation issues, PebbleDB recommended)")
	rootCmd.PersistentFlags().String("namespace", "erp:", "cache key namespace (tenant scope)")
	rootCmd.PersistentFlags().String("api-url", "", "ERP API base URL")
	rootCmd.PersistentFlags().String("credentials", "", "credential file (default ~/.erpcache/token.json)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error")

	bindFlag("storage_type", "storage-type")
	bindFlag("storage_path", "storage-path")
	bindFlag("enable_sqlite3_i_know_the_risks", "enable-sqlite3-i-know-the-risks")
	bindFlag("cache_namespace", "namespace")
	bindFlag("api_base_url", "api-url")
	bindFlag("credentials_file", "credentials")
	bindFlag("log_level", "log-level")

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(invalidateCmd)
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(warmCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(diagnosticsCmd)
}

// bindFlag binds a persistent flag to a viper key. Unset flags never
// override config file or environment values.
func bindFlag(key, flag string) {
	cobra.CheckErr(viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".erpcache")
	}

	viper.SetEnvPrefix("ERPCACHE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
