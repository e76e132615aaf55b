// Package expander serves literal rename and replace instructions without a
// model call by rewriting matching files directly.
package expander

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	iofs "io/fs"

	"github.com/sokinpui/streamedit/internal/fs"
	"github.com/sokinpui/streamedit/model"
)

// Options bounds a workspace scan.
type Options struct {
	// MaxFiles is the most files a mechanical rewrite may touch.
	MaxFiles int
	// MaxFileBytes skips larger files entirely.
	MaxFileBytes int64
	// MinLiteralLen rejects search literals too short to replace blindly.
	MinLiteralLen int
}

// DefaultOptions returns the scan limits used by the CLI.
func DefaultOptions() Options {
	return Options{MaxFiles: 200, MaxFileBytes: 1 << 20, MinLiteralLen: 2}
}

// Result is the outcome of an expansion attempt.
type Result struct {
	// MatchedFiles lists files containing the search literal, sorted. It is
	// populated even when no rewrite was produced.
	MatchedFiles []string
	Edits        []model.FileEdit
	WasExpanded  bool
	// Reason explains why a matched instruction was not expanded.
	Reason string
}

// Intent is a parsed literal replacement.
type Intent struct {
	Search  string
	Replace string
	// Dir scopes the scan to a workspace-relative directory.
	Dir string
}

// Expander scans one workspace.
type Expander struct {
	ws   *fs.Workspace
	opts Options
}

// New returns an expander over ws. Zero option fields take the defaults.
func New(ws *fs.Workspace, opts Options) *Expander {
	def := DefaultOptions()
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = def.MaxFiles
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = def.MaxFileBytes
	}
	if opts.MinLiteralLen <= 0 {
		opts.MinLiteralLen = def.MinLiteralLen
	}
	return &Expander{ws: ws, opts: opts}
}

const (
	verb   = `(?i:rename|replace|change|substitute)`
	quoted = "(?:`([^`]+)`|\"([^\"]+)\"|'([^']+)')"
	ident  = `([A-Za-z_][A-Za-z0-9_.\-]*)`
	scope  = "(?:\\s+(?i:in|under|within)\\s+(?:`([^`]+)`|\"([^\"]+)\"|'([^']+)'|([A-Za-z0-9_./\\-]+/)))?"
)

var (
	quotedIntent = regexp.MustCompile(`^\s*` + verb + `\s+(?i:all\s+)?(?i:(?:occurrences|instances)\s+of\s+)?` +
		quoted + `\s+(?i:to|with|into|by)\s+` + quoted + scope + `\s*[.!]?\s*$`)
	bareIntent = regexp.MustCompile(`^\s*` + verb + `\s+(?i:all\s+)?` + ident + `\s+(?i:to|with|into|by)\s+` + ident + scope + `\s*[.!]?\s*$`)
	anyQuoted  = regexp.MustCompile(quoted)
)

// ParseIntent extracts a literal replacement from an instruction.
func ParseIntent(instruction string) (Intent, bool) {
	instruction = strings.TrimSpace(instruction)
	if m := quotedIntent.FindStringSubmatch(instruction); m != nil {
		return Intent{
			Search:  first(m[1:4]...),
			Replace: first(m[4:7]...),
			Dir:     first(m[7:11]...),
		}, true
	}
	if m := bareIntent.FindStringSubmatch(instruction); m != nil {
		return Intent{Search: m[1], Replace: m[2], Dir: first(m[3:7]...)}, true
	}
	return Intent{}, false
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Expand tries to serve instruction deterministically. It never talks to the
// network and never writes to the workspace.
func (e *Expander) Expand(ctx context.Context, instruction string) (Result, error) {
	intent, ok := ParseIntent(instruction)
	if !ok {
		literals := quotedLiterals(instruction)
		if len(literals) == 0 {
			return Result{}, nil
		}
		matches, err := e.scan(ctx, "", literals)
		if err != nil {
			return Result{}, err
		}
		return Result{MatchedFiles: sortedPaths(matches), Reason: "instruction is not a literal replacement"}, nil
	}

	dir := ""
	if intent.Dir != "" {
		clean, err := fs.CleanRelative(strings.TrimSuffix(intent.Dir, "/"))
		if err != nil {
			return Result{}, fmt.Errorf("invalid scope %q: %w", intent.Dir, err)
		}
		dir = clean
	}

	matches, err := e.scan(ctx, dir, []string{intent.Search})
	if err != nil {
		return Result{}, err
	}
	res := Result{MatchedFiles: sortedPaths(matches)}
	if len(matches) == 0 {
		res.Reason = fmt.Sprintf("no files contain %q", intent.Search)
		return res, nil
	}
	if reason := e.refuse(intent, len(matches)); reason != "" {
		res.Reason = reason
		return res, nil
	}

	for _, path := range res.MatchedFiles {
		res.Edits = append(res.Edits, model.FileEdit{
			ID:      model.EditID(path),
			Path:    path,
			Content: strings.ReplaceAll(matches[path], intent.Search, intent.Replace),
		})
	}
	res.WasExpanded = true
	return res, nil
}

// refuse returns why a mechanical rewrite would be unsafe, or "".
func (e *Expander) refuse(intent Intent, matched int) string {
	switch {
	case intent.Search == intent.Replace:
		return "search and replacement are identical"
	case strings.ContainsAny(intent.Search, "\r\n") || strings.ContainsAny(intent.Replace, "\r\n"):
		return "multi-line replacement needs a structural edit"
	case len([]rune(intent.Search)) < e.opts.MinLiteralLen:
		return fmt.Sprintf("search literal %q is too short to replace blindly", intent.Search)
	case matched > e.opts.MaxFiles:
		return fmt.Sprintf("%d files match, more than the limit of %d", matched, e.opts.MaxFiles)
	}
	return ""
}

// scan returns the content of every text file under dir containing any of
// the literals, keyed by workspace-relative path.
func (e *Expander) scan(ctx context.Context, dir string, literals []string) (map[string]string, error) {
	matches := make(map[string]string)
	err := e.ws.Walk(ctx, dir, func(rel, abs string, info iofs.FileInfo) error {
		if info.Size() > e.opts.MaxFileBytes {
			return nil
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil
		}
		if fs.IsBinary(data) {
			return nil
		}
		content := string(data)
		for _, lit := range literals {
			if strings.Contains(content, lit) {
				matches[rel] = content
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan workspace: %w", err)
	}
	return matches, nil
}

func quotedLiterals(instruction string) []string {
	var out []string
	for _, m := range anyQuoted.FindAllStringSubmatch(instruction, -1) {
		if lit := first(m[1:4]...); strings.TrimSpace(lit) != "" {
			out = append(out, lit)
		}
	}
	return out
}

func sortedPaths(m map[string]string) []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
