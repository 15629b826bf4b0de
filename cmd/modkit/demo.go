package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/centraunit/modkit"
	"github.com/centraunit/modkit/internal/demo"
)

var demoClicks int

func init() {
	demoCmd.Flags().IntVarP(&demoClicks, "clicks", "n", 2, "number of increments to perform")
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the counter module once",
	Long: `Open a screen scope, press the counter's increment button the given
number of times through its presenter, then print the history recorded by
the mediator and close everything down.

Examples:
  modkit demo
  modkit demo -n 5 --config modkit.yaml`,
	Args: cobra.NoArgs,
	RunE: runDemo,
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	screen, err := a.rt.OpenScope(modkit.ScopeScreen, nil)
	if err != nil {
		return err
	}
	presenter, err := modkit.Resolve[*demo.CounterPresenter](ctx, a.rt, screen)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for i := 0; i < demoClicks; i++ {
		res := presenter.HandleIncrement(ctx)
		if !res.OK {
			fmt.Fprintf(out, "increment refused: %s (%s)\n", res.Message, res.Code)
			break
		}
		fmt.Fprintf(out, "%s: %d\n", res.Value.Label, res.Value.Value)
	}

	history := presenter.History(ctx)
	if history.OK {
		fmt.Fprintf(out, "history: %v\n", history.Value)
	} else {
		fmt.Fprintf(out, "history unavailable: %s\n", history.Message)
	}
	return a.rt.CloseScope(screen)
}
