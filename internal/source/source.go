package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"

	"github.com/sokinpui/streamedit/internal/ui"
)

// ErrEmpty is returned when the chosen source holds no text.
var ErrEmpty = errors.New("no response text to process")

// SourceProvider determines and retrieves the model response text.
type SourceProvider struct {
	// Input is a file path, "-" for stdin, or empty to auto-detect.
	Input string
	// Quiet suppresses the source header, for when a live view owns the
	// terminal.
	Quiet bool

	stdin     *os.File
	clipboard func() (string, error)
}

// New creates a new SourceProvider.
func New(input string) *SourceProvider {
	return &SourceProvider{Input: input, stdin: os.Stdin, clipboard: clipboard.ReadAll}
}

// StdinPiped reports whether stdin is a pipe or file rather than a terminal.
func StdinPiped() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// GetContent retrieves content from the input file, stdin (if piped) or the
// clipboard, in that order.
func (sp *SourceProvider) GetContent() (string, error) {
	var (
		content string
		err     error
	)
	switch {
	case sp.Input != "" && sp.Input != "-":
		sp.announce("--- Reading from %s ---", sp.Input)
		var data []byte
		data, err = os.ReadFile(sp.Input)
		if err != nil {
			return "", fmt.Errorf("failed to read input file: %w", err)
		}
		content = string(data)
	case sp.Input == "-" || sp.piped():
		sp.announce("--- Reading from stdin ---")
		var data []byte
		data, err = io.ReadAll(sp.stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read from stdin: %w", err)
		}
		content = string(data)
	default:
		sp.announce("--- Reading from clipboard ---")
		content, err = sp.clipboard()
		if err != nil {
			return "", fmt.Errorf("failed to read from clipboard: %w", err)
		}
	}

	if strings.TrimSpace(content) == "" {
		return "", ErrEmpty
	}
	return content, nil
}

func (sp *SourceProvider) piped() bool {
	if sp.stdin == nil {
		return false
	}
	stat, err := sp.stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

func (sp *SourceProvider) announce(format string, a ...interface{}) {
	if !sp.Quiet {
		ui.Header(format, a...)
	}
}
