package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/taskpack/taskpack/internal/identity"
	"github.com/taskpack/taskpack/internal/metrics"
)

var (
	// Global flags
	verbose  bool
	output   string
	repoFlag string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "tp",
	Short: "Deterministic task-packet lifecycle orchestrator",
	Long: `tp drives task packets through routing, execution, and audit.

Core Commands:
  orchestrate  Run a task packet end to end
  route        Plan packet routing against the availability declaration
  ingest       Extract and verify a case bundle zip
  audit        Audit an ingested case directory
  identity     Repository identity checks
  metrics      Local opt-in usage counters
  version      Show version information

Every artifact tp writes is deterministic: the same packet against the
same repository produces byte-identical output.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			cmd.Flags().Visit(func(f *pflag.Flag) {
				fmt.Fprintf(os.Stderr, "flag --%s=%s\n", f.Name, f.Value)
			})
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		recordInvocation(cmd)
	},
}

// exitError carries a specific process exit code out of a RunE. Code 2
// marks policy outcomes (handoff pending); plain errors map to 1.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "json", "Output format (json, yaml)")
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", "", "Repository root (default: nearest ancestor with a .taskpackroot marker)")
}

// repoRoot resolves the active repository: the --repo flag when set,
// otherwise the nearest ancestor of the working directory carrying the
// root marker or the identity sidecar.
func repoRoot() (string, error) {
	if repoFlag != "" {
		return filepath.Abs(repoFlag)
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, identity.RootMarker)); err == nil {
			return dir, nil
		}
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(identity.ProjectIdentityPath))); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not inside a taskpack repository (missing %s); run `tp identity init` or pass --repo", identity.RootMarker)
		}
		dir = parent
	}
}

// printWarning writes a soft warning to stderr, colorized only when
// stderr is a terminal.
func printWarning(warning string) {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		fmt.Fprintf(os.Stderr, "\x1b[33m%s\x1b[0m\n", warning)
		return
	}
	fmt.Fprintln(os.Stderr, warning)
}

// recordInvocation bumps the local metrics counter for the executed
// subcommand. A side channel only: every failure is swallowed and the
// ledger never influences command output.
func recordInvocation(cmd *cobra.Command) {
	path, err := metrics.DefaultPath()
	if err != nil {
		return
	}
	store, err := metrics.Open(path)
	if err != nil {
		return
	}
	defer store.Close() //nolint:errcheck // side channel

	enabled, err := store.EffectiveEnabled()
	if err != nil || !enabled {
		return
	}
	name := strings.TrimPrefix(cmd.CommandPath(), cmd.Root().Name())
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	store.Record(name) //nolint:errcheck // side channel
}
