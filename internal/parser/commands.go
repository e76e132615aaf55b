package parser

import (
	"regexp"
	"strings"

	"github.com/sokinpui/streamedit/model"
)

var shellLangs = map[string]bool{
	"sh":      true,
	"bash":    true,
	"shell":   true,
	"zsh":     true,
	"console": true,
	"cmd":     true,
}

// destructivePatterns is a fixed heuristic. It only decides whether a
// command needs confirmation and is not a security boundary.
var destructivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*[rRf][a-zA-Z]*\s+|--recursive\b|--force\b)`),
	regexp.MustCompile(`\brmdir\b`),
	regexp.MustCompile(`\bgit\s+push\b.*(\s--force\b|\s-f\b|\s--force-with-lease\b|\s\+\S+)`),
	regexp.MustCompile(`\bgit\s+reset\s+.*--hard\b`),
	regexp.MustCompile(`\bgit\s+clean\s+.*-[a-zA-Z]*f`),
	regexp.MustCompile(`\bgit\s+branch\s+.*-D\b`),
	regexp.MustCompile(`\bgit\s+checkout\s+--\s+\.`),
	regexp.MustCompile(`(?i)\bdrop\s+(table|database|schema|index)\b`),
	regexp.MustCompile(`(?i)\btruncate\s+table\b`),
	regexp.MustCompile(`(?i)\bdelete\s+from\b`),
	regexp.MustCompile(`\bmkfs(\.\w+)?\b`),
	regexp.MustCompile(`\bdd\s+.*\bif=`),
	regexp.MustCompile(`\bshred\b`),
	regexp.MustCompile(`>\s*/dev/(sd|nvme|disk)`),
	regexp.MustCompile(`\bchmod\s+(-R\s+)?777\b`),
	regexp.MustCompile(`\bkubectl\s+delete\b`),
	regexp.MustCompile(`\bdocker\s+(system\s+prune|rm|rmi|volume\s+rm)\b`),
	regexp.MustCompile(`\bterraform\s+destroy\b`),
	regexp.MustCompile(`:\(\)\s*\{`),
}

// IsDestructive reports whether a command matches a deny pattern.
func IsDestructive(command string) bool {
	for _, re := range destructivePatterns {
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

// extractCommands pulls shell commands out of residue text and returns the
// remaining prose.
func extractCommands(residue string) ([]model.CommandEdit, string) {
	if strings.TrimSpace(residue) == "" {
		return nil, ""
	}
	blocks, err := ExtractCodeBlocks([]byte(residue))
	if err != nil {
		return nil, strings.TrimSpace(residue)
	}

	var (
		commands []model.CommandEdit
		prose    strings.Builder
		last     int
	)
	for _, block := range blocks {
		if !shellLangs[block.Lang] || block.Start < last {
			continue
		}
		for _, line := range commandLines(block.Content, block.Closed) {
			commands = append(commands, model.CommandEdit{
				Command:       line,
				Description:   block.Hint,
				IsDestructive: IsDestructive(line),
			})
		}
		prose.WriteString(residue[last:block.Start])
		last = block.End
	}
	prose.WriteString(residue[last:])
	return commands, strings.TrimSpace(prose.String())
}

// commandLines splits a shell block into logical commands, dropping blank
// lines and comments, stripping "$ " prompts and joining "\" continuations.
// In an open block a continuation still waiting for its next line is held
// back.
func commandLines(content string, closed bool) []string {
	var (
		out     []string
		pending strings.Builder
	)
	raws := strings.Split(content, "\n")
	if !closed {
		raws = raws[:len(raws)-1]
	}
	for _, raw := range raws {
		line := strings.TrimSpace(raw)
		if pending.Len() == 0 {
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			line = strings.TrimPrefix(line, "$ ")
		}
		if strings.HasSuffix(line, `\`) {
			pending.WriteString(strings.TrimSpace(strings.TrimSuffix(line, `\`)))
			pending.WriteString(" ")
			continue
		}
		pending.WriteString(line)
		if cmd := strings.TrimSpace(pending.String()); cmd != "" {
			out = append(out, cmd)
		}
		pending.Reset()
	}
	if !closed {
		return out
	}
	if cmd := strings.TrimSpace(pending.String()); cmd != "" {
		out = append(out, cmd)
	}
	return out
}
