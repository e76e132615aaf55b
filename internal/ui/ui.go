package ui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/sokinpui/streamedit/model"
)

var (
	HeaderColor  = color.New(color.FgBlue, color.Bold)
	InfoColor    = color.New(color.FgCyan)
	SuccessColor = color.New(color.FgGreen)
	WarningColor = color.New(color.FgYellow)
	ErrorColor   = color.New(color.FgRed)
	PathColor    = color.New(color.FgYellow)
	PromptColor  = color.New(color.FgMagenta)
	AddedColor   = color.New(color.FgGreen)
	RemovedColor = color.New(color.FgRed)
	FaintColor   = color.New(color.Faint)
)

func Header(format string, a ...interface{}) {
	HeaderColor.Fprintf(os.Stderr, format+"\n", a...)
}

func Info(format string, a ...interface{}) {
	InfoColor.Fprintf(os.Stderr, format+"\n", a...)
}

func Success(format string, a ...interface{}) {
	SuccessColor.Fprintf(os.Stderr, format+"\n", a...)
}

func Warning(format string, a ...interface{}) {
	WarningColor.Fprintf(os.Stderr, format+"\n", a...)
}

func Error(format string, a ...interface{}) {
	ErrorColor.Fprintf(os.Stderr, format+"\n", a...)
}

func Path(format string, a ...interface{}) {
	PathColor.Fprintf(os.Stderr, "  "+format+"\n", a...)
}

func Prompt(format string, a ...interface{}) string {
	return PromptColor.Sprintf(format, a...)
}

// --- Previews ---

// previewContext is the number of unchanged lines kept around each change.
const previewContext = 3

// PrintPreview writes a colored line diff for one file edit. Long runs of
// unchanged lines are collapsed.
func PrintPreview(w io.Writer, path string, isNew bool, records []model.DiffRecord) {
	added, removed := 0, 0
	for _, r := range records {
		switch r.Kind {
		case model.DiffAdded:
			added++
		case model.DiffRemoved:
			removed++
		}
	}
	label := "modify"
	if isNew {
		label = "create"
	}
	HeaderColor.Fprintf(w, "%s %s ", label, path)
	AddedColor.Fprintf(w, "+%d ", added)
	RemovedColor.Fprintf(w, "-%d\n", removed)

	if added == 0 && removed == 0 {
		FaintColor.Fprintln(w, "  (no changes)")
		return
	}

	keep := make([]bool, len(records))
	for i, r := range records {
		if r.Kind == model.DiffUnchanged {
			continue
		}
		for j := max(0, i-previewContext); j <= min(len(records)-1, i+previewContext); j++ {
			keep[j] = true
		}
	}

	skipped := false
	for i, r := range records {
		if !keep[i] {
			skipped = true
			continue
		}
		if skipped {
			FaintColor.Fprintln(w, "  ...")
			skipped = false
		}
		switch r.Kind {
		case model.DiffAdded:
			AddedColor.Fprintf(w, "%5d + %s\n", r.LineNumber, r.Content)
		case model.DiffRemoved:
			RemovedColor.Fprintf(w, "%5d - %s\n", r.LineNumber, r.Content)
		default:
			fmt.Fprintf(w, "%5d   %s\n", r.LineNumber, r.Content)
		}
	}
	if skipped {
		FaintColor.Fprintln(w, "  ...")
	}
}

// PrintCommands lists proposed shell commands. Destructive ones are flagged
// and never run by this tool.
func PrintCommands(w io.Writer, commands []model.CommandEdit) {
	if len(commands) == 0 {
		return
	}
	HeaderColor.Fprintf(w, "\n--- Suggested Commands (%d) ---\n", len(commands))
	for _, c := range commands {
		if c.Description != "" {
			FaintColor.Fprintf(w, "  # %s\n", c.Description)
		}
		if c.IsDestructive {
			ErrorColor.Fprintf(w, "  ! %s", c.Command)
			WarningColor.Fprintln(w, "  (destructive)")
			continue
		}
		fmt.Fprintf(w, "  $ %s\n", c.Command)
	}
}

// --- Summaries ---

func PrintUpdateSummary(summary model.Summary) {
	Header("\n--- Update Summary ---")

	if len(summary.Created) == 0 && len(summary.Modified) == 0 && len(summary.Failed) == 0 {
		if summary.Message != "" {
			Info("%s", summary.Message)
		} else {
			Info("No files were updated.")
		}
		return
	}

	if len(summary.Modified) > 0 {
		Success("Modified %d file(s):", len(summary.Modified))
		for _, f := range summary.Modified {
			fmt.Printf("  - %s\n", f)
		}
	}
	if len(summary.Created) > 0 {
		Success("Created %d new file(s):", len(summary.Created))
		for _, f := range summary.Created {
			fmt.Printf("  - %s\n", f)
		}
	}
	if len(summary.Failed) > 0 {
		Error("Failed to write %d file(s):", len(summary.Failed))
		for _, f := range summary.Failed {
			fmt.Printf("  - %s\n", f)
		}
	}
	if summary.Message != "" {
		Info("%s", summary.Message)
	}
}

// Confirm asks a yes/no question on stderr and reads the answer from in.
// Anything but "y" or "yes" is a no.
func Confirm(in io.Reader, question string) (bool, error) {
	fmt.Fprint(os.Stderr, Prompt("%s [y/N] ", question))
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// --- Progress Bar ---

type ProgressBar struct {
	out     io.Writer
	total   int
	prefix  string
	current int
}

func NewProgressBar(total int, prefix string) *ProgressBar {
	return &ProgressBar{out: os.Stderr, total: total, prefix: prefix}
}

func (p *ProgressBar) Start() {
	p.draw()
}

func (p *ProgressBar) Increment() {
	p.Set(p.current + 1)
}

// Set moves the bar to done, clamped to the total.
func (p *ProgressBar) Set(done int) {
	p.current = min(max(done, 0), p.total)
	p.draw()
}

func (p *ProgressBar) Finish() {
	fmt.Fprintln(p.out)
}

func (p *ProgressBar) draw() {
	if p.total == 0 {
		return
	}
	const barLength = 40
	percent := float64(p.current) / float64(p.total)
	filledLength := int(percent * barLength)
	bar := strings.Repeat("█", filledLength) + strings.Repeat("-", barLength-filledLength)

	percentStr := fmt.Sprintf("%.1f%%", percent*100)
	countStr := fmt.Sprintf("[%d/%d]", p.current, p.total)

	fmt.Fprintf(p.out, "\r%s |%s| %s %s", p.prefix, bar, countStr, percentStr)
}
