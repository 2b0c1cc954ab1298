package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/fivetwenty-io/apiclient/internal/constants"
)

// writeStructured encodes v as indented JSON or YAML.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case constants.FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")

		err := encoder.Encode(v)
		if err != nil {
			return fmt.Errorf("encoding output as JSON: %w", err)
		}
	case constants.FormatYAML:
		encoder := yaml.NewEncoder(w)

		err := encoder.Encode(v)
		if err != nil {
			return fmt.Errorf("encoding output as YAML: %w", err)
		}

		return encoder.Close()
	default:
		return fmt.Errorf("%w: %s", constants.ErrInvalidOutputFormat, format)
	}

	return nil
}

// renderProperties prints a two column Property/Value table.
func renderProperties(w io.Writer, rows [][2]string) error {
	table := tablewriter.NewWriter(w)
	table.Header("Property", "Value")

	for _, row := range rows {
		err := table.Append([]string{row[0], row[1]})
		if err != nil {
			return fmt.Errorf("failed to append table row: %w", err)
		}
	}

	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}
