package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/centraunit/modkit"
	"github.com/centraunit/modkit/internal/demo"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the validated service graph",
	Long: `Build the registry of the counter module and print its services in
construction order, with scope, role, dependencies and mediator bindings.

Examples:
  modkit graph`,
	Args: cobra.NoArgs,
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	reg := modkit.NewRegistry()
	if err := reg.RegisterModules(demo.Module{}); err != nil {
		return err
	}
	if err := reg.Build(); err != nil {
		return fmt.Errorf("registry build failed: %w", err)
	}
	printGraph(cmd.OutOrStdout(), reg)
	return nil
}

func printGraph(w io.Writer, reg *modkit.Registry) {
	for i, t := range reg.Order() {
		d, _ := reg.Descriptor(t)
		fmt.Fprintf(w, "%2d. %-28s %-10s %s\n", i+1, d.Name(), d.Scope, d.Role)
		if len(d.DependsOn) > 0 {
			deps := make([]string, 0, len(d.DependsOn))
			for _, dep := range d.DependsOn {
				deps = append(deps, dep.String())
			}
			fmt.Fprintf(w, "    depends on: %s\n", strings.Join(deps, ", "))
		}
		if b := d.Binding; b != nil {
			events := make([]string, 0, len(b.Events))
			for _, e := range b.Events {
				events = append(events, string(e))
			}
			fmt.Fprintf(w, "    mediates:   %s -> %s on %s\n", b.Source, b.Target, strings.Join(events, ", "))
		}
	}
}
