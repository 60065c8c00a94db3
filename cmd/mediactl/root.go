package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"mediaflow/internal/infra"
)

// cli carries the state every subcommand shares once flags are parsed.
type cli struct {
	out        io.Writer
	configFile string
	cfg        *infra.Config
	log        infra.Logger
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}
	root := &cobra.Command{
		Use:           "mediactl",
		Short:         "Administer a mediaflow deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := infra.LoadConfig(infra.LoadOptions{File: c.configFile, Flags: cmd.Flags(), DotEnv: []string{".env"}})
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.log = infra.NewLogger("production", cfg.App.LogLevel).Output(os.Stderr)
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&c.configFile, "config", "config.yaml", "optional YAML config file")
	pf.String("store.backend", "", "repository backend: memory, pebble or postgres")
	pf.String("store.pebble_path", "", "pebble data directory")
	pf.String("store.database_url", "", "postgres connection string")
	pf.String("blob.backend", "", "blob backend: filesystem, memory, s3 or gcs")
	pf.String("blob.dir", "", "filesystem blob directory")

	root.AddCommand(
		c.planCmd(),
		c.jobsCmd(),
		c.sweepCmd(),
		c.migrateCmd(),
		c.tokenCmd(),
	)
	return root
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("mediactl: write output: %w", err)
	}
	return nil
}
