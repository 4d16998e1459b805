package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/gojobs/pkg/execjob"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- <command> [args...]",
	Short: "Run a command as a tracked job",
	Long: `Run a command as a tracked job and wait for it to finish.

The job record is persisted before the command starts, updated with the
child's pid once it is running, and finalized with the exit code and the
paths of the captured stdout and stderr logs.

Examples:
  gojobs run -- make test
  gojobs run --name nightly --output json -- ./backup.sh /srv/data`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("name", "", "Human-readable job name")
	runCmd.Flags().String("dir", "", "Working directory for the command")
	runCmd.Flags().StringArray("env", nil, "Extra environment variable (KEY=VALUE), repeatable")
	runCmd.Flags().StringP("output", "o", outputText, "Output format: text, json, yaml")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name, _ := cmd.Flags().GetString("name")
	dir, _ := cmd.Flags().GetString("dir")
	env, _ := cmd.Flags().GetStringArray("env")
	format, _ := cmd.Flags().GetString("output")

	if err := validateOutput(format); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --output value", err)
	}
	for _, kv := range env {
		if !strings.Contains(kv, "=") {
			return exitError(foundry.ExitInvalidArgument, "Invalid --env value", fmt.Errorf("%q is not KEY=VALUE", kv))
		}
	}

	ce, err := newCommandEngine(ctx, appConfig)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open job store", err)
	}
	defer ce.close()

	md := execjob.Metadata{Name: name, Command: args, Dir: dir, Env: env}
	id, err := ce.executor.Submit(ctx, ce.engine, md)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to submit job", err)
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Job %s submitted\n", id)

	rec, err := ce.engine.Wait(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return exitError(foundry.ExitSignalInt, "Job wait cancelled", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to wait for job", err)
	}
	if err := ce.engine.Drain(ctx); err != nil {
		return exitError(foundry.ExitSignalInt, "Job wait cancelled", err)
	}

	out := cmd.OutOrStdout()
	if format == outputText {
		writeRecordText(out, rec)
	} else if err := writeDocument(out, rec, format, ""); err != nil {
		return err
	}

	return jobOutcome(rec)
}

// jobOutcome maps a terminal record to the command's exit error. A record
// without a result never reached a real terminal write.
func jobOutcome(rec *execjob.Record) error {
	if rec == nil || rec.Result == nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Job has no result",
			errors.New("terminal record carries no result"))
	}
	if rec.Result.Failed() {
		_, failure, _ := rec.Result.Unpack()
		return exitError(childExitCode(failure.ExitCode), "Job failed", errors.New(failure.Message))
	}
	return nil
}

// childExitCode propagates the command's exit code when it has one.
func childExitCode(code int) int {
	if code > 0 && code < 256 {
		return code
	}
	return 1
}
