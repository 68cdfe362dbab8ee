package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Output format constants.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func validateOutput(format string) error {
	switch format {
	case outputTable, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (must be table, json, or yaml)", format)
	}
}

// printStructured writes v as JSON or YAML. It reports false for table output.
func printStructured(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case outputJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, fmt.Errorf("marshal JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return true, err
	case outputYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return true, fmt.Errorf("marshal YAML: %w", err)
		}
		_, err = w.Write(data)
		return true, err
	default:
		return false, nil
	}
}

type tableWriter struct {
	w *tabwriter.Writer
}

func newTable(w io.Writer, headers ...string) *tableWriter {
	t := &tableWriter{w: tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)}
	if len(headers) > 0 {
		t.AddRow(headers...)
	}
	return t
}

func (t *tableWriter) AddRow(values ...string) {
	fmt.Fprintln(t.w, strings.Join(values, "\t"))
}

func (t *tableWriter) Flush() {
	_ = t.w.Flush()
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
