// file: cmd/cache.go
// version: 1.0.0
// guid: 8b3f6d1a-4e2c-4a7b-9c5e-1d0f3a5c7e9b

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jdfalk/erpcache/internal/cache"
	"github.com/jdfalk/erpcache/internal/config"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// getCmd resolves one resource through the cache
var getCmd = &cobra.Command{
	Use:   "get <resource>",
	Short: "Read a resource through the cache",
	Long: `Read a resource through the cache, fetching it from the ERP backend on a
miss or when the cached copy is older than the resource's TTL.

Examples:
  erpcache get schools
  erpcache get books --param class=5 --param subject=math
  erpcache get topics --param book=b5 --refresh`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := paramsFlag(cmd)
		if err != nil {
			return err
		}
		refresh, _ := cmd.Flags().GetBool("refresh")
		return withApp(func(a *app) error {
			return runGet(cmd.Context(), a, cmd.OutOrStdout(), args[0], params, refresh)
		})
	},
}

// invalidateCmd drops cached entries of one resource
var invalidateCmd = &cobra.Command{
	Use:   "invalidate <resource>",
	Short: "Drop cached entries of a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := paramsFlag(cmd)
		if err != nil {
			return err
		}
		all, _ := cmd.Flags().GetBool("all-params")
		return withApp(func(a *app) error {
			return runInvalidate(a, cmd.OutOrStdout(), args[0], params, all)
		})
	},
}

// flushCmd drops everything except the credential
var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Drop every cached entry but keep the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			return runFlush(a, cmd.OutOrStdout())
		})
	},
}

// keysCmd lists cache keys
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List cached keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		find, _ := cmd.Flags().GetString("find")
		return withApp(func(a *app) error {
			return runKeys(a, cmd.OutOrStdout(), find, time.Now())
		})
	},
}

// warmCmd preloads every resource that needs no parameters
var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Preload every resource that takes no required parameters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			return runWarm(cmd.Context(), a, cmd.OutOrStdout())
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{getCmd, invalidateCmd} {
		c.Flags().StringArrayP("param", "p", nil, "resource parameter as key=value (repeatable)")
	}
	getCmd.Flags().Bool("refresh", false, "bypass the cached copy")
	invalidateCmd.Flags().Bool("all-params", false, "drop entries for every parameter combination")
	keysCmd.Flags().String("find", "", "fuzzy filter applied to keys")
}

// withApp builds the component graph from the loaded config, runs fn and
// releases storage.
func withApp(fn func(a *app) error) error {
	a, err := newApp(config.AppConfig)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Warn(err.Error())
		}
	}()
	return fn(a)
}

func paramsFlag(cmd *cobra.Command) (cache.Params, error) {
	pairs, err := cmd.Flags().GetStringArray("param")
	if err != nil {
		return nil, err
	}
	return parseParams(pairs)
}

// parseParams turns key=value pairs into resource parameters. The last
// value wins for repeated keys.
func parseParams(pairs []string) (cache.Params, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(cache.Params, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: want key=value", pair)
		}
		params[key] = strings.TrimSpace(value)
	}
	return params, nil
}

func runGet(ctx context.Context, a *app, w io.Writer, name string, params cache.Params, refresh bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	raw, err := a.reg.Resolve(ctx, name, params, refresh)
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", name, err)
	}
	if !a.hook.Authenticated() {
		fmt.Fprintln(w, "Not logged in; showing the empty value. Run 'erpcache login' first.")
	}

	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return fmt.Errorf("backend returned invalid JSON for %s: %w", name, err)
	}
	out.WriteByte('\n')
	_, err = out.WriteTo(w)
	return err
}

func runInvalidate(a *app, w io.Writer, name string, params cache.Params, all bool) error {
	n, err := a.reg.Invalidate(name, params, all)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Removed %d cached %s entries\n", n, name)
	return nil
}

func runFlush(a *app, w io.Writer) error {
	n := a.hook.Flush("manual")
	fmt.Fprintf(w, "Flushed %d entries\n", n)
	return nil
}

func runKeys(a *app, w io.Writer, find string, now time.Time) error {
	entries := a.guard.Entries()
	byKey := make(map[string]cache.Entry, len(entries))
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		byKey[e.Key] = e
		keys = append(keys, e.Key)
	}

	keys = cache.FindKeys(keys, strings.TrimSpace(find))
	if len(keys) == 0 {
		fmt.Fprintln(w, "No cached keys.")
		return nil
	}
	for _, k := range keys {
		e := byKey[k]
		fmt.Fprintf(w, "%s\t%s\t%d bytes\n", k, e.Age(now).Round(time.Second), len(e.Value))
	}
	return nil
}

func runWarm(ctx context.Context, a *app, w io.Writer) error {
	if !a.hook.Authenticated() {
		return errors.New("not logged in: run 'erpcache login' first")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	defs := a.reg.Warmable()
	bar := progressbar.NewOptions(len(defs),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("warming"),
		progressbar.OptionShowCount(),
	)

	var failed []string
	err := a.reg.Warm(ctx, func(name string, err error) {
		if err != nil {
			failed = append(failed, name)
		}
		bar.Describe(name)
		_ = bar.Add(1)
	})
	_ = bar.Finish()
	fmt.Fprintln(w)

	if err != nil {
		return fmt.Errorf("failed to warm %s: %w", strings.Join(failed, ", "), err)
	}
	fmt.Fprintf(w, "Warmed %d resources\n", len(defs))
	return nil
}
