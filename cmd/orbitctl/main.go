// Command orbitctl runs the orbit design operations from the command line and
// prints JSON results to stdout.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	verbose  bool
	epochArg string
	logger   *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "orbitctl",
	Short: "Orbit propagation, link budgets and constellation design",
	Long: `
orbitctl propagates Keplerian orbits with J2 drift, evaluates optical ground
links, searches repeat-ground-track resonances, builds Walker-Delta
constellations and optimizes them for revisit time over ground targets.

Every command writes JSON to stdout; logs go to stderr.
`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log progress to stderr")
	rootCmd.PersistentFlags().StringVar(&epochArg, "epoch", "", "Epoch as RFC3339 (default: now)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// epoch returns the --epoch flag value, or the current time.
func epoch() (time.Time, error) {
	if epochArg == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, epochArg)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --epoch: %w", err)
	}
	return t.UTC(), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}
