package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gojobs/internal/observability"
	"github.com/3leaps/gojobs/pkg/execjob"
	"github.com/3leaps/gojobs/pkg/job"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs in the store",
	Long: `List the latest record of every job in the configured store, newest first.

--name filters by job name with a glob (e.g. 'nightly-*', 'backup/**').
--state filters by started, running, succeeded, failed or stale.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().Bool("json", false, "Output as JSON")
	listCmd.Flags().String("name", "", "Only jobs whose name matches this glob")
	listCmd.Flags().String("state", "", "Only jobs in this state")
	listCmd.Flags().Int("limit", 0, "Show at most N jobs (0 = all)")
}

var listStates = map[string]bool{
	"started": true, "running": true, "succeeded": true, "failed": true, "stale": true,
}

func runList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")
	namePattern, _ := cmd.Flags().GetString("name")
	state, _ := cmd.Flags().GetString("state")
	limit, _ := cmd.Flags().GetInt("limit")

	if namePattern != "" && !doublestar.ValidatePattern(namePattern) {
		return exitError(foundry.ExitInvalidArgument, "Invalid --name pattern", fmt.Errorf("%q is not a valid glob", namePattern))
	}
	state = strings.ToLower(strings.TrimSpace(state))
	if state != "" && !listStates[state] {
		return exitError(foundry.ExitInvalidArgument, "Invalid --state value", fmt.Errorf("unknown state %q", state))
	}
	if limit < 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --limit value", fmt.Errorf("limit must be >= 0"))
	}

	backend, cleanup, err := openBackend(ctx, appConfig)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open job store", err)
	}
	defer cleanup()

	l, ok := backend.(lister)
	if !ok {
		return exitError(foundry.ExitInvalidArgument, "Listing not supported", fmt.Errorf("backend %q cannot list jobs", appConfig.Storage.Backend))
	}
	snaps, err := l.List(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list jobs", err)
	}

	var records []*execjob.Record
	for _, snap := range snaps {
		rec, err := job.Decode[execjob.Output, execjob.Error, execjob.Metadata, execjob.Status](snap)
		if err != nil {
			observability.CLILogger.Warn("Skipping undecodable job", zap.Stringer("job_id", snap.ID), zap.Error(err))
			continue
		}
		if !matchesListFilter(rec, namePattern, state) {
			continue
		}
		records = append(records, rec)
		if limit > 0 && len(records) == limit {
			break
		}
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if records == nil {
			records = []*execjob.Record{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	if len(records) == 0 {
		_, _ = fmt.Fprintln(out, "No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	now := time.Now().UTC()
	_, _ = fmt.Fprintln(w, "JOB ID\tNAME\tSTATE\tCREATED\tUPDATED\tCOMMAND")
	for _, rec := range records {
		name, command := "-", "-"
		if rec.Metadata != nil {
			if rec.Metadata.Name != "" {
				name = rec.Metadata.Name
			}
			if len(rec.Metadata.Command) > 0 {
				command = truncate(strings.Join(rec.Metadata.Command, " "), 48)
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s ago\t%s ago\t%s\n",
			shortJobID(rec.ID),
			name,
			statusLabel(rec),
			formatAge(now, rec.CreatedAt),
			formatAge(now, rec.UpdatedAt),
			command,
		)
	}
	return nil
}

func matchesListFilter(rec *execjob.Record, namePattern, state string) bool {
	if namePattern != "" {
		name := ""
		if rec.Metadata != nil {
			name = rec.Metadata.Name
		}
		if ok, _ := doublestar.Match(namePattern, name); !ok {
			return false
		}
	}
	if state == "" {
		return true
	}
	label := statusLabel(rec)
	if state == "running" {
		return strings.HasPrefix(label, "running")
	}
	return label == state
}

// formatAge renders how long ago t was.
func formatAge(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return d.Round(time.Second).String()
	case d < time.Hour:
		return d.Round(time.Minute).String()
	}
	return d.Round(time.Hour).String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
