// file: cmd/session.go
// version: 1.1.0
// guid: 9c4a7e2d-6f1b-4d8c-a3e5-2b0d4f6a8c1e

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jdfalk/erpcache/internal/config"
	"github.com/jdfalk/erpcache/internal/logging"
	"github.com/jdfalk/erpcache/internal/session"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

// loginCmd stores a credential and starts a session
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store an access token and start a session",
	Long: `Store an access token issued by the ERP backend. Pass --token - to read
the token from standard input instead of the command line.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		expiresIn, _ := cmd.Flags().GetDuration("expires-in")
		if token == "-" {
			var err error
			if token, err = readToken(cmd.InOrStdin()); err != nil {
				return err
			}
		}
		return withSession(func(s *sessionApp) error {
			return runLogin(s, cmd.OutOrStdout(), token, expiresIn, time.Now())
		})
	},
}

// logoutCmd ends the session and flushes the cache
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the credential and flush the cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *sessionApp) error {
			return runLogout(s, cmd.OutOrStdout())
		})
	},
}

func init() {
	loginCmd.Flags().String("token", "", "access token, or - to read it from stdin")
	loginCmd.Flags().Duration("expires-in", 0, "token lifetime (e.g. 8h); 0 means no expiry")
	_ = loginCmd.MarkFlagRequired("token")
}

// withSession runs fn against the credential file without holding the cache
// store, so login and logout work while the daemon is serving.
func withSession(fn func(s *sessionApp) error) error {
	logger, err := logging.New(config.AppConfig.LogLevel)
	if err != nil {
		return err
	}
	// Sync fails on terminals that do not support fsync
	defer func() { _ = logger.Sync() }()
	return fn(newSessionApp(config.AppConfig, logger))
}

func readToken(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func runLogin(s *sessionApp, w io.Writer, token string, expiresIn time.Duration, now time.Time) error {
	tok := &oauth2.Token{AccessToken: strings.TrimSpace(token), TokenType: "Bearer"}
	if expiresIn > 0 {
		tok.Expiry = now.Add(expiresIn)
	}
	if err := s.hook.Login(tok); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	fmt.Fprintf(w, "Logged in; credential saved to %s\n", s.creds.Path())
	if !tok.Expiry.IsZero() {
		fmt.Fprintf(w, "Token expires at %s\n", tok.Expiry.Format(time.RFC3339))
	}
	printDeferred(w, s)
	return nil
}

func runLogout(s *sessionApp, w io.Writer) error {
	wasAuthenticated := s.hook.Authenticated()
	if err := s.hook.Logout(session.ReasonLogout); err != nil {
		return err
	}
	switch {
	case s.flusher.deferred && wasAuthenticated:
		fmt.Fprintln(w, "Logged out.")
	case s.flusher.deferred:
		fmt.Fprintln(w, "Not logged in.")
	case wasAuthenticated:
		fmt.Fprintln(w, "Logged out; cache flushed.")
	default:
		fmt.Fprintln(w, "Not logged in; cache flushed anyway.")
	}
	printDeferred(w, s)
	return nil
}

func printDeferred(w io.Writer, s *sessionApp) {
	if s.flusher.deferred {
		fmt.Fprintln(w, "Cache store is in use (is 'erpcache serve' running?); it flushes when it sees the credential change.")
	}
}
