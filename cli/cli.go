package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/sokinpui/streamedit/internal/fs"
)

// Config holds all the command-line flag values.
type Config struct {
	Instruction   string
	Input         string
	Root          string
	ChunkSize     int
	ChunkInterval time.Duration
	Select        []string
	Plain         bool
	Yes           bool
	DryRun        bool
	LCS           bool
	AllowProse    bool
	Nvim          bool
	Journal       bool
	Debug         bool
}

// ParseFlags parses the process arguments.
func ParseFlags() (*Config, error) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs defines and parses command-line flags using pflag.
func ParseArgs(args []string) (*Config, error) {
	cfg := &Config{}
	flags := pflag.NewFlagSet("streamedit", pflag.ContinueOnError)

	flags.StringVarP(&cfg.Input, "input", "i", "", "Read the model response from a file ('-' for stdin). Defaults to stdin when piped, otherwise the clipboard.")
	flags.StringVarP(&cfg.Root, "root", "C", "", "Workspace root (default: git root or current directory).")
	flags.IntVar(&cfg.ChunkSize, "chunk-size", 24, "Characters per streamed fragment when replaying a response.")
	flags.DurationVar(&cfg.ChunkInterval, "chunk-interval", 20*time.Millisecond, "Delay between streamed fragments.")
	flags.StringSliceVarP(&cfg.Select, "select", "s", []string{}, "Apply only these paths (default: every file edit).")
	flags.BoolVar(&cfg.Plain, "plain", false, "Disable the live view and print plain progress.")
	flags.BoolVarP(&cfg.Yes, "yes", "y", false, "Apply without asking for confirmation.")
	flags.BoolVarP(&cfg.DryRun, "dry-run", "n", false, "Preview edits without writing any file.")
	flags.BoolVar(&cfg.LCS, "lcs", false, "Align preview diffs with longest common subsequence instead of line position.")
	flags.BoolVar(&cfg.AllowProse, "allow-prose", false, "Accept responses that mix explanation text with edits.")
	flags.BoolVar(&cfg.Nvim, "nvim", false, "Write files through Neovim buffers (uses $NVIM_LISTEN_ADDRESS or a headless instance).")
	flags.BoolVar(&cfg.Journal, "journal", false, "Record the session timeline in .streamedit/timeline.db.")
	flags.BoolVar(&cfg.Debug, "debug", false, "Write a debug log to .streamedit/logs.")

	flags.Usage = func() {
		fmt.Println("Usage: streamedit [flags] [instruction...]")
		fmt.Println("\nTurn a streamed model response into verified file edits.")
		fmt.Println("Literal renames are applied without a model response.")
		fmt.Println("\nExamples:")
		fmt.Println("  streamedit 'rename `oldName` to `newName`'")
		fmt.Println("  pbpaste | streamedit --plain -y")
		fmt.Println("\nFlags:")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	cfg.Instruction = strings.TrimSpace(strings.Join(flags.Args(), " "))

	// Validate mutually exclusive flags
	if cfg.DryRun && cfg.Yes {
		return nil, fmt.Errorf("error: --dry-run and --yes are mutually exclusive")
	}
	if cfg.ChunkSize < 1 {
		return nil, fmt.Errorf("error: --chunk-size must be at least 1")
	}
	if cfg.ChunkInterval < 0 {
		return nil, fmt.Errorf("error: --chunk-interval must not be negative")
	}

	// Normalize selected paths
	for i, p := range cfg.Select {
		clean, err := fs.CleanRelative(p)
		if err != nil {
			return nil, fmt.Errorf("error: --select %q: %w", p, err)
		}
		cfg.Select[i] = clean
	}

	return cfg, nil
}
