package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mediaflow/internal/app"
	"mediaflow/internal/domain"
)

func (c *cli) planCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "plan", Short: "Inspect or change account plans"}

	set := &cobra.Command{
		Use:   "set ACCOUNT_ID free|pro",
		Short: "Assign a plan and its default limits",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[1] != string(domain.PlanFree) && args[1] != string(domain.PlanPro) {
				return fmt.Errorf("unsupported plan %q", args[1])
			}
			plan := domain.ParsePlan(args[1])
			ctx := cmd.Context()
			store, _, err := app.OpenStore(ctx, c.cfg, c.log)
			if err != nil {
				return err
			}
			defer store.Close()

			limits := c.limits(plan)
			_, err = store.Accounts.Get(ctx, args[0])
			switch {
			case errors.Is(err, domain.ErrNotFound):
				err = store.Accounts.Upsert(ctx, &domain.Account{
					ID: args[0], Plan: plan, DailyQuota: limits.DailyQuota, MaxConcurrent: limits.MaxConcurrent,
				})
			case err == nil:
				err = store.Accounts.SetPlan(ctx, args[0], plan, limits)
			}
			if err != nil {
				return fmt.Errorf("mediactl: set plan: %w", err)
			}
			acc, err := store.Accounts.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return c.printJSON(acc)
		},
	}

	show := &cobra.Command{
		Use:   "show ACCOUNT_ID",
		Short: "Print an account with its limits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := app.OpenStore(cmd.Context(), c.cfg, c.log)
			if err != nil {
				return err
			}
			defer store.Close()
			acc, err := store.Accounts.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("mediactl: account %s: %w", args[0], err)
			}
			return c.printJSON(acc)
		},
	}

	cmd.AddCommand(set, show)
	return cmd
}

func (c *cli) limits(plan domain.Plan) domain.PlanLimits {
	q := c.cfg.Quota.Free
	if plan == domain.PlanPro {
		q = c.cfg.Quota.Pro
	}
	return domain.PlanLimits{DailyQuota: q.Daily, MaxConcurrent: q.Concurrent}
}
