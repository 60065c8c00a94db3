package main

import (
	"github.com/spf13/cobra"

	"mediaflow/internal/app"
	"mediaflow/internal/retention"
)

func (c *cli) sweepCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one retention pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), c.cfg, c.log)
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.Sweeper.Sweep(cmd.Context(), retention.Options{DryRun: dryRun})
			if err != nil {
				return err
			}
			return c.printJSON(res)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be purged without deleting")
	return cmd
}
