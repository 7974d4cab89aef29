package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskpack/taskpack/internal/metrics"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Local opt-in usage counters",
	Long: `Manage the local metrics ledger: per-subcommand invocation counters
stored in a sqlite database under your state directory. Disabled by
default; nothing ever leaves your machine, and the ledger never
affects artifact output. TP_METRICS=1 or =0 overrides the setting for
one invocation.`,
}

var metricsEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enable invocation counting",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setMetricsEnabled(cmd, true)
	},
}

var metricsDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable invocation counting",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setMetricsEnabled(cmd, false)
	},
}

var metricsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear all counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openMetricsStore()
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck // read-mostly handle

		if err := store.Reset(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "metrics counters cleared")
		return nil
	},
}

var metricsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openMetricsStore()
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck // read-mostly handle

		enabled, err := store.EffectiveEnabled()
		if err != nil {
			return err
		}
		counters, err := store.Counters()
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "enabled: %t\n", enabled)
		fmt.Fprintf(cmd.OutOrStdout(), "ledger: %s\n", store.Path())
		if len(counters) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no invocations recorded")
			return nil
		}
		for _, counter := range counters {
			fmt.Fprintf(cmd.OutOrStdout(), "%8d  %s\n", counter.Count, counter.Command)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(metricsCmd)
	metricsCmd.AddCommand(metricsEnableCmd)
	metricsCmd.AddCommand(metricsDisableCmd)
	metricsCmd.AddCommand(metricsResetCmd)
	metricsCmd.AddCommand(metricsShowCmd)
}

func openMetricsStore() (*metrics.Store, error) {
	path, err := metrics.DefaultPath()
	if err != nil {
		return nil, err
	}
	return metrics.Open(path)
}

func setMetricsEnabled(cmd *cobra.Command, enabled bool) error {
	store, err := openMetricsStore()
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck // read-mostly handle

	if err := store.SetEnabled(enabled); err != nil {
		return err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "metrics %s\n", state)
	return nil
}
