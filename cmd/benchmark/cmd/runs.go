package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/record"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/runindex"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Lists recorded runs, most recent first",
		RunE:  listRuns,
	}
	cmd.Flags().String("results-root", record.DefaultRoot, "Directory that run records are written below")
	cmd.Flags().String("kind", record.DefaultKind, "Kind of benchmark whose runs are listed")
	cmd.Flags().String("revision", "", "Only list runs of this revision")
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list; 0 lists all")
	return cmd
}

func listRuns(cmd *cobra.Command, _ []string) error {
	root, _ := cmd.Flags().GetString("results-root")
	kind, _ := cmd.Flags().GetString("kind")
	revision, _ := cmd.Flags().GetString("revision")
	limit, _ := cmd.Flags().GetInt("limit")

	path := runindex.PathFor(record.NewWriter(root, kind).KindDir())
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(cmd.OutOrStdout(), "No runs recorded below %s\n", root)
			return nil
		}
		return errors.WithStack(err)
	}
	index, err := runindex.Open(path)
	if err != nil {
		return err
	}
	defer index.Close()

	runs, err := index.List(cmd.Context(), runindex.ListOptions{Revision: revision, Limit: limit})
	if err != nil {
		return err
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.AppendHeader(table.Row{"Run", "Revision", "Tag", "Started", "Duration", "Outcome", "Directory"})
	for _, run := range runs {
		outcome := string(run.Outcome)
		if run.Stage != "" {
			outcome = fmt.Sprintf("%s (%s)", outcome, run.Stage)
		}
		tw.AppendRow(table.Row{
			run.RunId,
			run.Revision,
			run.Tag,
			run.StartedAt.Local().Format(time.DateTime),
			run.FinishedAt.Sub(run.StartedAt).Round(time.Second),
			outcome,
			run.Dir,
		})
	}
	tw.Render()
	return nil
}
