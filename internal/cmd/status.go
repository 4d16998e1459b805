package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/3leaps/gojobs/pkg/execjob"
	"github.com/3leaps/gojobs/pkg/job"
)

var statusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show the latest record for a job",
	Long: `Show the latest persisted record for a job.

The id may be abbreviated to any unique prefix. --query applies a JMESPath
expression to the JSON form of the record, e.g. --query status.kind.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

var waitCmd = &cobra.Command{
	Use:   "wait <job_id>",
	Short: "Block until a job finishes",
	Long: `Poll the job store until the job reaches its terminal status, then print
the final record.

Any process sharing the store can wait, including one that did not submit
the job. Exits non-zero if the job failed or --timeout elapsed.`,
	Args: cobra.ExactArgs(1),
	RunE: runWait,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(waitCmd)

	statusCmd.Flags().StringP("output", "o", outputText, "Output format: text, json, yaml")
	statusCmd.Flags().String("query", "", "JMESPath expression applied to the record (json/yaml output)")

	waitCmd.Flags().StringP("output", "o", outputText, "Output format: text, json, yaml")
	waitCmd.Flags().Duration("timeout", 0, "Give up after this duration (0 = wait forever)")
	waitCmd.Flags().Duration("poll", 0, "Interval between store reads (default engine.poll_interval)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	format, _ := cmd.Flags().GetString("output")
	query, _ := cmd.Flags().GetString("query")
	if err := validateOutput(format); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --output value", err)
	}
	if query != "" && format == outputText {
		format = outputJSON
	}

	backend, cleanup, err := openBackend(ctx, appConfig)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open job store", err)
	}
	defer cleanup()

	id, err := lookupJobID(ctx, backend, args[0])
	if err != nil {
		return err
	}
	rec, err := execjob.NewStore(backend).Load(ctx, id)
	if err != nil {
		return loadError(err)
	}

	if format == outputText {
		writeRecordText(cmd.OutOrStdout(), rec)
		return nil
	}
	return writeDocument(cmd.OutOrStdout(), rec, format, query)
}

func runWait(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	format, _ := cmd.Flags().GetString("output")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	poll, _ := cmd.Flags().GetDuration("poll")
	if err := validateOutput(format); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --output value", err)
	}
	if timeout < 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --timeout value", fmt.Errorf("timeout must be >= 0"))
	}
	if poll <= 0 {
		poll = appConfig.Engine.PollInterval
	}

	backend, cleanup, err := openBackend(ctx, appConfig)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open job store", err)
	}
	defer cleanup()

	id, err := lookupJobID(ctx, backend, args[0])
	if err != nil {
		return err
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rec, err := job.Wait[execjob.Output, execjob.Error, execjob.Metadata, execjob.Status](waitCtx, execjob.NewStore(backend), execjob.Model, id, job.WaitPollInterval(poll))
	if err != nil {
		if ctx.Err() != nil {
			return exitError(foundry.ExitSignalInt, "Wait cancelled", err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return exitError(foundry.ExitExternalServiceUnavailable, "Timed out waiting for job", err)
		}
		return loadError(err)
	}

	if format == outputText {
		writeRecordText(cmd.OutOrStdout(), rec)
	} else if err := writeDocument(cmd.OutOrStdout(), rec, format, ""); err != nil {
		return err
	}
	return jobOutcome(rec)
}

func lookupJobID(ctx context.Context, backend job.Backend, input string) (uuid.UUID, error) {
	id, err := resolveJobID(ctx, backend, input)
	if err == nil {
		return id, nil
	}
	if job.IsNotFound(err) {
		return uuid.Nil, exitError(foundry.ExitFileNotFound, "Job not found", err)
	}
	return uuid.Nil, exitError(foundry.ExitInvalidArgument, "Invalid job id", err)
}

func loadError(err error) error {
	if job.IsNotFound(err) {
		return exitError(foundry.ExitFileNotFound, "Job not found", err)
	}
	return exitError(foundry.ExitExternalServiceUnavailable, "Failed to load job", err)
}
