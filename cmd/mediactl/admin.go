package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mediaflow/internal/adapter/repo"
	"mediaflow/internal/domain"
	"mediaflow/internal/infra"
	"mediaflow/internal/infra/credentials"
	"mediaflow/internal/middleware"
)

var errNeedsPostgres = errors.New("mediactl: this command requires store.backend=postgres")

func (c *cli) withSQL(cmd *cobra.Command, fn func(infra.SQLExecutor) error) error {
	if c.cfg.Store.Backend != "postgres" {
		return errNeedsPostgres
	}
	pool, err := infra.NewDBPool(cmd.Context(), c.cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(infra.NewSQLRunner(pool, c.log))
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSQL(cmd, func(sql infra.SQLExecutor) error {
				if err := repo.Migrate(cmd.Context(), sql); err != nil {
					return err
				}
				_, err := fmt.Fprintln(c.out, "schema up to date")
				return err
			})
		},
	}
}

func (c *cli) tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Manage service and API tokens"}

	set := &cobra.Command{
		Use:   "set PROVIDER TOKEN",
		Short: "Store a third-party service token, e.g. removebg",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSQL(cmd, func(sql infra.SQLExecutor) error {
				if err := credentials.NewStore(sql).SetToken(cmd.Context(), args[0], args[1], nil); err != nil {
					return err
				}
				_, err := fmt.Fprintf(c.out, "%s token stored\n", args[0])
				return err
			})
		},
	}

	var (
		plan string
		ttl  time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue ACCOUNT_ID",
		Short: "Sign a bearer token for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.Auth.JWTSecret == "" {
				return errors.New("mediactl: auth.jwt_secret is not configured")
			}
			token, err := middleware.SignJWT(c.cfg.Auth.JWTSecret, middleware.TokenClaims{
				Sub:      args[0],
				Plan:     string(domain.ParsePlan(plan)),
				Exp:      time.Now().Add(ttl).Unix(),
				Issuer:   c.cfg.Auth.Issuer,
				Audience: c.cfg.Auth.Audience,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.out, token)
			return err
		},
	}
	issue.Flags().StringVar(&plan, "plan", string(domain.PlanFree), "plan claim: free or pro")
	issue.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	cmd.AddCommand(set, issue)
	return cmd
}
