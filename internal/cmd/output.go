package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jmespath-community/go-jmespath"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/gojobs/pkg/execjob"
	"github.com/3leaps/gojobs/pkg/job"
)

// Output formats accepted by --output.
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func validateOutput(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	}
	return fmt.Errorf("unsupported output format %q (use text, json or yaml)", format)
}

// writeDocument renders v as JSON or YAML, optionally narrowed by a JMESPath
// query evaluated against the JSON form of v.
func writeDocument(w io.Writer, v any, format, query string) error {
	doc, err := toGeneric(v)
	if err != nil {
		return err
	}
	if q := strings.TrimSpace(query); q != "" {
		doc, err = jmespath.Search(q, doc)
		if err != nil {
			return fmt.Errorf("evaluate query %q: %w", q, err)
		}
	}

	if format == outputYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// toGeneric round-trips v through JSON so custom marshalers (status, result)
// shape the document.
func toGeneric(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// writeRecordText prints a command job record for humans.
func writeRecordText(w io.Writer, rec *execjob.Record) {
	_, _ = fmt.Fprintf(w, "Job:      %s\n", rec.ID)
	if rec.Metadata != nil {
		if rec.Metadata.Name != "" {
			_, _ = fmt.Fprintf(w, "Name:     %s\n", rec.Metadata.Name)
		}
		_, _ = fmt.Fprintf(w, "Command:  %s\n", strings.Join(rec.Metadata.Command, " "))
	}
	_, _ = fmt.Fprintf(w, "Status:   %s\n", statusLabel(rec))
	_, _ = fmt.Fprintf(w, "Created:  %s\n", rec.CreatedAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "Updated:  %s\n", rec.UpdatedAt.Format(time.RFC3339))
	if rec.FinishedAt != nil {
		_, _ = fmt.Fprintf(w, "Finished: %s\n", rec.FinishedAt.Format(time.RFC3339))
	}
	if rec.Result == nil {
		return
	}

	out, failure, failed := rec.Result.Unpack()
	if failed {
		_, _ = fmt.Fprintf(w, "Result:   failed (exit code %d)\n", failure.ExitCode)
		_, _ = fmt.Fprintf(w, "Error:    %s\n", failure.Message)
		writeLogPaths(w, failure.StdoutPath, failure.StderrPath)
		return
	}
	_, _ = fmt.Fprintf(w, "Result:   succeeded in %s\n", out.Duration)
	writeLogPaths(w, out.StdoutPath, out.StderrPath)
}

func writeLogPaths(w io.Writer, stdout, stderr string) {
	if stdout != "" {
		_, _ = fmt.Fprintf(w, "Stdout:   %s\n", stdout)
	}
	if stderr != "" {
		_, _ = fmt.Fprintf(w, "Stderr:   %s\n", stderr)
	}
}

// statusLabel is the one-word state shown in tables.
func statusLabel(rec *execjob.Record) string {
	switch {
	case rec.Result != nil && rec.Result.Failed():
		return "failed"
	case rec.Result != nil:
		return "succeeded"
	case rec.Status.Kind == job.KindCustom && execjob.Stale(rec):
		return "stale"
	case rec.Status.Kind == job.KindCustom:
		return fmt.Sprintf("running (pid %d)", rec.Status.Value.PID)
	}
	return string(rec.Status.Kind)
}

func shortJobID(id fmt.Stringer) string {
	s := id.String()
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
