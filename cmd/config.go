// file: cmd/config.go
// version: 1.0.0
// guid: 2e6c9a4f-8b3d-4f0e-a5c7-4d2f6b8c0e3a

package cmd

import (
	"fmt"
	"io"

	"github.com/jdfalk/erpcache/internal/config"
	"github.com/jdfalk/erpcache/internal/resources"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or write the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the effective configuration to a YAML file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		return runConfigInit(cmd.OutOrStdout(), path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration and resource TTLs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigShow(cmd.OutOrStdout(), config.AppConfig)
	},
}

func init() {
	configInitCmd.Flags().String("path", "", "destination file (default $HOME/.erpcache.yaml)")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(w io.Writer, path string) error {
	written, err := config.SaveConfigToFile(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Configuration written to %s\n", written)
	return nil
}

func runConfigShow(w io.Writer, cfg config.Config) error {
	fmt.Fprintf(w, "Storage:     %s (%s)\n", cfg.StoragePath, cfg.StorageType)
	fmt.Fprintf(w, "Namespace:   %s\n", cfg.CacheNamespace)
	fmt.Fprintf(w, "API:         %s (timeout %s, %.1f req/s)\n", cfg.APIBaseURL, cfg.APITimeout, cfg.APIRateLimit)
	fmt.Fprintf(w, "Credentials: %s\n", cfg.CredentialsFile)
	fmt.Fprintf(w, "Daemon:      %s\n", cfg.Addr())
	fmt.Fprintln(w, "TTLs:")
	for _, d := range resources.Catalog {
		ttl := d.TTL
		note := ""
		if o, ok := cfg.TTLOverrides[d.Name]; ok {
			ttl = o
			note = " (override)"
		}
		fmt.Fprintf(w, "  %-14s %s%s\n", d.Name, ttl, note)
	}
	return nil
}
