package util

import (
	"encoding/json"
	"io"
	"os"

	"golang.org/x/term"
)

// JSONOutput provides structured output for CLI operations
type JSONOutput struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// WriteJSON writes data to w, indented when w is a terminal and compact
// otherwise so that piped output stays one document per line.
func WriteJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	if IsTerminal(w) {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// PrintJSON outputs data as JSON on stdout
func PrintJSON(data interface{}) error {
	return WriteJSON(os.Stdout, data)
}

// PrintJSONError outputs an error in JSON format
func PrintJSONError(w io.Writer, err error) error {
	return WriteJSON(w, JSONOutput{
		Success: false,
		Error:   err.Error(),
	})
}
