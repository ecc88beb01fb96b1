package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// OutputFormat represents the output format type.
type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
)

// OutputFlags provides output formatting flags.
type OutputFlags struct {
	Output OutputFormat `short:"o" help:"Output format: table, json, yaml." enum:"table,json,yaml" default:"table"`
}

// render formats v as JSON or YAML, or calls table for the table
// format.
func (f *OutputFlags) render(v any, table func(*strings.Builder)) (string, error) {
	switch f.Output {
	case OutputFormatJSON:
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal result: %w", err)
		}
		return string(out) + "\n", nil
	case OutputFormatYAML:
		out, err := yaml.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to marshal result: %w", err)
		}
		return string(out), nil
	default:
		var b strings.Builder
		table(&b)
		return b.String(), nil
	}
}

// newTable returns a tabwriter over b with onectl's column spacing.
func newTable(b *strings.Builder) *tabwriter.Writer {
	return tabwriter.NewWriter(b, 0, 0, 2, ' ', 0)
}
