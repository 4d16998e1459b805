package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/gojobs/pkg/execjob"
	"github.com/3leaps/gojobs/pkg/job"
	"github.com/3leaps/gojobs/pkg/jobstore/sqlstore"
)

var historyCmd = &cobra.Command{
	Use:   "history <job_id>",
	Short: "Show every saved snapshot of a job",
	Long: `Show every snapshot saved for a job, oldest first.

Only the sqlite and postgres backends keep history; other backends replace
the record on each save.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().Bool("json", false, "Output as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	backend, cleanup, err := openBackend(ctx, appConfig)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open job store", err)
	}
	defer cleanup()

	sb, ok := backend.(*sqlstore.Backend)
	if !ok {
		return exitError(foundry.ExitInvalidArgument, "History not supported",
			fmt.Errorf("backend %q keeps only the latest record", appConfig.Storage.Backend))
	}

	id, err := lookupJobID(ctx, backend, args[0])
	if err != nil {
		return err
	}
	entries, err := sb.History(ctx, id)
	if err != nil {
		return loadError(err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "SEQ\tUPDATED\tSTATE")
	for _, entry := range entries {
		label := "undecodable"
		if rec, err := job.Decode[execjob.Output, execjob.Error, execjob.Metadata, execjob.Status](entry.Snapshot); err == nil {
			label = statusLabel(rec)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", entry.Seq, entry.UpdatedAt.Format(time.RFC3339Nano), label)
	}
	return nil
}
