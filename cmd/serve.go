// file: cmd/serve.go
// version: 1.0.0
// guid: 0d5b8f3e-7a2c-4e9d-b4f6-3c1e5a7b9d2f

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jdfalk/erpcache/internal/config"
	"github.com/jdfalk/erpcache/internal/realtime"
	"github.com/jdfalk/erpcache/internal/server"
	"github.com/jdfalk/erpcache/internal/session"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local cache daemon",
	Long: `Start an HTTP daemon that serves cached ERP resources to local tools,
streams session and cache events over SSE and exposes Prometheus metrics.

The credential file is watched, so a login or logout performed by another
process is picked up without a restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
		idleTimeout, _ := cmd.Flags().GetDuration("idle-timeout")
		return withApp(func(a *app) error {
			return runServe(ctx, a, config.AppConfig, server.ServerConfig{
				ReadTimeout: readTimeout,
				IdleTimeout: idleTimeout,
			})
		})
	},
}

func init() {
	serveCmd.Flags().String("host", "localhost", "host to bind the daemon to")
	serveCmd.Flags().Int("port", 8484, "port to run the daemon on")
	serveCmd.Flags().String("token", "", "token clients must present (empty disables the check)")
	serveCmd.Flags().Int("rate-limit", 600, "requests per minute per client (0 disables)")
	serveCmd.Flags().Duration("read-timeout", 0, "read timeout (e.g. 15s, 1m)")
	serveCmd.Flags().Duration("idle-timeout", 0, "idle timeout (e.g. 60s, 2m)")

	cobra.CheckErr(viper.BindPFlag("host", serveCmd.Flags().Lookup("host")))
	cobra.CheckErr(viper.BindPFlag("port", serveCmd.Flags().Lookup("port")))
	cobra.CheckErr(viper.BindPFlag("daemon_token", serveCmd.Flags().Lookup("token")))
	cobra.CheckErr(viper.BindPFlag("daemon_rate_limit", serveCmd.Flags().Lookup("rate-limit")))
}

// runServe serves until ctx is done. base supplies timeouts; listen address
// and access settings come from cfg.
func runServe(ctx context.Context, a *app, cfg config.Config, base server.ServerConfig) error {
	// the watcher needs the directory to exist before the first login
	if err := os.MkdirAll(filepath.Dir(a.creds.Path()), 0o700); err != nil {
		return fmt.Errorf("failed to create credential dir: %w", err)
	}
	watcher := session.NewWatcher(a.hook, a.creds.Path(), 0, a.logger.Named("watcher"))
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("failed to watch credentials: %w", err)
	}
	defer watcher.Stop()

	hub := realtime.NewEventHub(a.logger.Named("events"))
	base.Host = cfg.Host
	base.Port = cfg.Port
	base.Token = cfg.DaemonToken
	base.RateLimit = cfg.DaemonRateLimit

	srv := server.NewServer(server.Deps{
		Registry: a.reg,
		Session:  a.hook,
		Hub:      hub,
		Logger:   a.logger.Named("server"),
	}, base)

	a.logger.Info("daemon ready",
		zap.String("addr", cfg.Addr()),
		zap.String("api", a.client.BaseURL()),
		zap.Bool("authenticated", a.hook.Authenticated()),
	)
	return srv.Start(ctx)
}
