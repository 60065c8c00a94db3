package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"mediaflow/internal/app"
	"mediaflow/internal/domain"
)

func (c *cli) jobsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "jobs", Short: "Inspect jobs"}

	var (
		limit  int
		output string
	)
	list := &cobra.Command{
		Use:   "list ACCOUNT_ID",
		Short: "List an account's jobs, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := app.OpenStore(cmd.Context(), c.cfg, c.log)
			if err != nil {
				return err
			}
			defer store.Close()
			list, err := store.Jobs.ListByAccount(cmd.Context(), args[0], limit)
			if err != nil {
				return fmt.Errorf("mediactl: list jobs: %w", err)
			}
			views := make([]domain.JobView, 0, len(list))
			for _, job := range list {
				views = append(views, job.View())
			}
			switch output {
			case "json":
				return c.printJSON(views)
			case "table":
				renderJobTable(c.out, views)
				return nil
			}
			return fmt.Errorf("mediactl: unknown output %q", output)
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum number of jobs")
	list.Flags().StringVarP(&output, "output", "o", "table", "table or json")

	status := &cobra.Command{
		Use:   "status JOB_ID",
		Short: "Print one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := app.OpenStore(cmd.Context(), c.cfg, c.log)
			if err != nil {
				return err
			}
			defer store.Close()
			job, err := store.Jobs.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("mediactl: job %s: %w", args[0], err)
			}
			return c.printJSON(job)
		},
	}

	cmd.AddCommand(list, status)
	return cmd
}

func renderJobTable(w io.Writer, views []domain.JobView) {
	if len(views) == 0 {
		fmt.Fprintln(w, "No jobs found.")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Job ID", "Type", "Status", "Progress", "Created", "Error"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	for _, v := range views {
		errText := string(v.ErrorKind)
		if v.ErrorMessage != "" {
			errText += ": " + v.ErrorMessage
		}
		table.Append([]string{
			v.ID,
			string(v.Type),
			string(v.Status),
			strconv.Itoa(v.Progress) + "%",
			v.CreatedAt.Format(time.RFC3339),
			errText,
		})
	}
	table.Render()
}
