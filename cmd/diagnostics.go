// file: cmd/diagnostics.go
// version: 2.0.0
// guid: c8f6a0d4-2a8b-48cf-9d08-02cc9915d9fc

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/jdfalk/erpcache/internal/cache"
	"github.com/spf13/cobra"
)

var (
	diagnosticsCmd = &cobra.Command{
		Use:   "diagnostics",
		Short: "Debugging and cleanup helpers",
		Long:  "Diagnostic utilities for inspecting and repairing the cache store.",
	}

	cleanupCmd = &cobra.Command{
		Use:   "cleanup-invalid",
		Short: "Remove malformed (and optionally expired) cache records",
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("yes")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			expired, _ := cmd.Flags().GetBool("expired")
			return withApp(func(a *app) error {
				return runCleanupInvalid(a, cmd.OutOrStdout(), cmd.InOrStdin(), cleanupOptions{
					force: force, dryRun: dryRun, expired: expired, now: time.Now(),
				})
			})
		},
	}

	queryCmd = &cobra.Command{
		Use:   "query",
		Short: "Inspect raw stored records",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			prefix, _ := cmd.Flags().GetString("prefix")
			return withApp(func(a *app) error {
				return runDiagnosticsQuery(a, cmd.OutOrStdout(), limit, prefix)
			})
		},
	}
)

func init() {
	cleanupCmd.Flags().Bool("yes", false, "Skip confirmation prompt")
	cleanupCmd.Flags().Bool("dry-run", false, "List invalid records without deleting")
	cleanupCmd.Flags().Bool("expired", false, "Also remove entries older than their resource TTL")

	queryCmd.Flags().Int("limit", 5, "Number of records to display")
	queryCmd.Flags().String("prefix", "", "Key prefix to inspect (default: the cache namespace)")

	diagnosticsCmd.AddCommand(cleanupCmd)
	diagnosticsCmd.AddCommand(queryCmd)
}

type cleanupOptions struct {
	force   bool
	dryRun  bool
	expired bool
	now     time.Time
}

type invalidRecord struct {
	key    string
	reason string
}

func runCleanupInvalid(a *app, w io.Writer, in io.Reader, opts cleanupOptions) error {
	keys, err := a.store.Keys()
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}
	sort.Strings(keys)

	ns := a.guard.Namespace()
	fmt.Fprintf(w, "Inspecting %d keys in namespace %q\n", len(keys), ns)

	var invalid []invalidRecord
	for _, key := range keys {
		if !strings.HasPrefix(key, ns) {
			continue
		}
		raw, ok, err := a.store.GetItem(key)
		if err != nil || !ok {
			continue
		}
		e, err := cache.DecodeEntry(raw)
		if err != nil {
			invalid = append(invalid, invalidRecord{key: key, reason: "malformed"})
			continue
		}
		if !opts.expired {
			continue
		}
		def, err := a.reg.Definition(resourceOfKey(ns, key))
		if err != nil {
			invalid = append(invalid, invalidRecord{key: key, reason: "unknown resource"})
			continue
		}
		if age := e.Age(opts.now); age > def.TTL {
			invalid = append(invalid, invalidRecord{key: key, reason: fmt.Sprintf("expired %s ago", (age - def.TTL).Round(time.Second))})
		}
	}

	if len(invalid) == 0 {
		fmt.Fprintln(w, "No invalid cache records detected.")
		return nil
	}

	fmt.Fprintf(w, "Found %d invalid records:\n", len(invalid))
	for i, rec := range invalid {
		fmt.Fprintf(w, "%2d. %s (%s)\n", i+1, rec.key, rec.reason)
	}

	if opts.dryRun {
		fmt.Fprintln(w, "Dry run enabled; no deletions were performed.")
		return nil
	}

	if !opts.force {
		confirmed, err := promptYesNo(w, in, fmt.Sprintf("Delete %d records", len(invalid)))
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Fprintln(w, "Aborted. No records deleted.")
			return nil
		}
	}

	deleted := 0
	for _, rec := range invalid {
		if err := a.store.RemoveItem(rec.key); err != nil {
			fmt.Fprintf(w, "Failed to delete %s: %v\n", rec.key, err)
			continue
		}
		deleted++
	}

	fmt.Fprintf(w, "Deleted %d invalid records.\n", deleted)
	return nil
}

func runDiagnosticsQuery(a *app, w io.Writer, limit int, prefix string) error {
	if limit <= 0 {
		return errors.New("limit must be positive")
	}
	if prefix == "" {
		prefix = a.guard.Namespace()
	}

	keys, err := a.store.Keys()
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}
	sort.Strings(keys)

	count := 0
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		val, ok, err := a.store.GetItem(key)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", key, err)
		}
		if !ok {
			continue
		}

		fmt.Fprintf(w, "Key: %s\n", key)
		fmt.Fprintf(w, "Value length: %d bytes\n", len(val))
		if e, err := cache.DecodeEntry(val); err == nil {
			fmt.Fprintf(w, "Stored at: %s\n", time.UnixMilli(e.StoredAt).UTC().Format(time.RFC3339))
		}
		fmt.Fprintf(w, "Value preview: %s\n", truncateString(string(val), 500))
		fmt.Fprintln(w, "---")

		count++
		if count >= limit {
			break
		}
	}

	if count == 0 {
		fmt.Fprintln(w, "No keys matched the requested prefix.")
	}
	return nil
}

// resourceOfKey recovers the resource name from a key derived in ns.
func resourceOfKey(ns, key string) string {
	name, _, _ := strings.Cut(strings.TrimPrefix(key, ns), "?")
	if unescaped, err := url.PathUnescape(name); err == nil {
		return unescaped
	}
	return name
}

func promptYesNo(w io.Writer, in io.Reader, action string) (bool, error) {
	fmt.Fprintf(w, "%s? Type 'yes' to confirm: ", action)
	reader := bufio.NewReader(in)
	response, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "yes", nil
}

func truncateString(in string, max int) string {
	if len(in) <= max {
		return in
	}
	return in[:max] + "..."
}
