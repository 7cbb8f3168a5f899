package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

// writeJSON renders a run view, action result, or config as indented JSON
// on the command's stdout. Every subcommand routes through it when --json
// is set so scripted callers get one stable output shape.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
