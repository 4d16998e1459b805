package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/gojobs/pkg/jobstore/fsstore"
	"github.com/3leaps/gojobs/pkg/jobstore/sqlstore"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Garbage collect old job records",
	Long: `Remove job data that is no longer needed.

fs backend: deletes finished jobs (record and logs) older than --max-age.
sqlite/postgres: deletes superseded snapshots, keeping each job's latest.
redis relies on storage.redis.ttl; s3 relies on bucket lifecycle rules.`,
	Args: cobra.NoArgs,
	RunE: runGC,
}

func init() {
	rootCmd.AddCommand(gcCmd)

	gcCmd.Flags().String("max-age", "168h", "Delete finished jobs older than this duration (fs backend)")
	gcCmd.Flags().Bool("dry-run", false, "Show what would be deleted")
	gcCmd.Flags().Bool("json", false, "Output as JSON")
}

func runGC(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	maxAgeStr, _ := cmd.Flags().GetString("max-age")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	maxAge, err := time.ParseDuration(maxAgeStr)
	if err != nil || maxAge <= 0 {
		if err == nil {
			err = fmt.Errorf("max-age must be > 0")
		}
		return exitError(foundry.ExitInvalidArgument, "Invalid --max-age value", err)
	}

	backend, cleanup, err := openBackend(ctx, appConfig)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open job store", err)
	}
	defer cleanup()

	out := cmd.OutOrStdout()
	switch b := backend.(type) {
	case *fsstore.Backend:
		res, err := b.GC(ctx, maxAge, dryRun)
		if err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to garbage collect jobs", err)
		}
		if jsonOutput {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		if dryRun {
			_, _ = fmt.Fprintf(out, "Would delete %d job(s) older than %s\n", len(res.WouldDelete), res.MaxAge)
			return nil
		}
		_, _ = fmt.Fprintf(out, "Deleted %d job(s) older than %s\n", len(res.Deleted), res.MaxAge)
		return nil

	case *sqlstore.Backend:
		if dryRun {
			_, _ = fmt.Fprintln(out, "Dry run: superseded snapshots would be compacted")
			return nil
		}
		n, err := b.Compact(ctx)
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to compact job history", err)
		}
		if jsonOutput {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]int64{"compacted": n})
		}
		_, _ = fmt.Fprintf(out, "Compacted %d superseded snapshot(s)\n", n)
		return nil
	}

	return exitError(foundry.ExitInvalidArgument, "GC not supported",
		fmt.Errorf("backend %q manages expiry itself", appConfig.Storage.Backend))
}
