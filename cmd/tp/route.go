package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/taskpack/taskpack/internal/packet"
	"github.com/taskpack/taskpack/internal/router"
)

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Routing against the availability declaration",
}

var routeInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter availability declaration",
	Long: `Create .taskpack/availability.yaml with the default models, runners,
and escalation policy. An existing declaration is never overwritten.`,
	Args: cobra.NoArgs,
	RunE: runRouteInit,
}

var routePlanCmd = &cobra.Command{
	Use:   "plan <packet.json>",
	Short: "Preview the route plan for a packet",
	Long: `Compute the per-step runner/model assignment for a packet without
touching the run directory. Output is the plan document in the format
selected by --output.`,
	Args: cobra.ExactArgs(1),
	RunE: runRoutePlan,
}

func init() {
	rootCmd.AddCommand(routeCmd)
	routeCmd.AddCommand(routeInitCmd)
	routeCmd.AddCommand(routePlanCmd)
}

func runRouteInit(cmd *cobra.Command, args []string) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	path, err := router.EnsureDefaultAvailability(root)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "availability declaration: %s\n", path)
	return nil
}

func runRoutePlan(cmd *cobra.Command, args []string) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}

	p, err := packet.Load(args[0])
	if err != nil {
		return err
	}
	av, err := router.LoadAvailability(filepath.Join(root, filepath.FromSlash(router.AvailabilityPath)))
	if err != nil {
		return err
	}

	plan := router.BuildRoutePlan(p, av)
	rendered, err := renderDocument(plan)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), rendered)
	return nil
}

// renderDocument marshals a document per the --output flag.
func renderDocument(v any) (string, error) {
	switch output {
	case "json":
		raw, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode json: %w", err)
		}
		return string(raw) + "\n", nil
	case "yaml":
		raw, err := yaml.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode yaml: %w", err)
		}
		return string(raw), nil
	default:
		return "", fmt.Errorf("unsupported output format %q (expected json or yaml)", output)
	}
}
