package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arencloud/bucketwarden/internal/storage"
	"github.com/spf13/cobra"
)

// ErrorResponse is the JSON shape of a failed command.
type ErrorResponse struct {
	Error      string       `json:"error"`
	Kind       storage.Kind `json:"kind,omitempty"`
	Dependents []string     `json:"dependents,omitempty"`
	Timestamp  string       `json:"timestamp"`
	Command    string       `json:"command"`
}

func printJSON(cmd *cobra.Command, data any) error {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func printError(cmd *cobra.Command, err error, command string) {
	resp := ErrorResponse{
		Error:     err.Error(),
		Timestamp: time.Now().Format(time.RFC3339),
		Command:   command,
	}
	var se *storage.Error
	if errors.As(err, &se) {
		resp.Kind = se.Kind
		resp.Dependents = se.Dependents
		if se.Message != "" {
			resp.Error = se.Message
		}
	}
	if perr := printJSON(cmd, resp); perr != nil {
		cmd.PrintErrln("Error:", err)
	}
}

// formatBytes renders n with a binary unit suffix.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
