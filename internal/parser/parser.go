package parser

import (
	"strings"

	"github.com/sokinpui/streamedit/internal/fs"
	"github.com/sokinpui/streamedit/model"
)

// Block markers. A file block is
//
//	BEGIN FILE path/to/file
//	...content...
//	END FILE
const (
	BeginMarker = "BEGIN FILE"
	EndMarker   = "END FILE"
)

// Result is everything a single scan of accumulated text yields.
type Result struct {
	Files    []model.FileEdit
	Commands []model.CommandEdit
	// Prose is the trimmed text outside file blocks and command fences.
	Prose string
	// Unterminated lists paths whose block was still open at end of input.
	Unterminated []string
	// Discarded lists raw header paths rejected as unsafe.
	Discarded []string
}

// Parse extracts file edits and shell commands from accumulated text.
func Parse(text string) ([]model.FileEdit, []model.CommandEdit) {
	r := Analyze(text)
	return r.Files, r.Commands
}

// Analyze scans text and returns the edits together with the residue used
// for output validation. It is pure: the same input always yields the same
// result, and a prefix of some text yields a subset of its edit IDs.
func Analyze(text string) Result {
	var (
		res     Result
		residue strings.Builder
		byPath  = make(map[string]int)
		open    *openBlock
	)

	for _, ln := range splitRaw(text) {
		trimmed := strings.TrimSpace(ln.text)

		if open != nil {
			if trimmed == EndMarker {
				open.finish(&res, byPath)
				open = nil
				continue
			}
			if ln.complete {
				open.body = append(open.body, strings.TrimSuffix(ln.text, "\r"))
			} else {
				open.tail = ln.text
			}
			continue
		}

		if ln.complete {
			if rawPath, ok := headerPath(trimmed); ok {
				clean, err := fs.CleanRelative(rawPath)
				if err != nil {
					res.Discarded = append(res.Discarded, rawPath)
					open = &openBlock{discard: true}
				} else {
					open = &openBlock{path: clean}
				}
				continue
			}
		}

		residue.WriteString(ln.text)
		if ln.complete {
			residue.WriteString("\n")
		}
	}

	if open != nil {
		open.finishStreaming(&res, byPath)
	}

	res.Commands, res.Prose = extractCommands(residue.String())
	return res
}

type openBlock struct {
	path    string
	body    []string
	tail    string
	discard bool
}

func (b *openBlock) finish(res *Result, byPath map[string]int) {
	if b.discard {
		return
	}
	content := strings.Join(b.body, "\n")
	if len(b.body) > 0 {
		content += "\n"
	}
	upsert(res, byPath, model.FileEdit{
		ID:      model.EditID(b.path),
		Path:    b.path,
		Content: content,
	})
}

func (b *openBlock) finishStreaming(res *Result, byPath map[string]int) {
	if b.discard {
		return
	}
	visible := b.body
	// A partial last line is held back while it could still become the
	// end marker, so the preview never flashes "END FI".
	if !strings.HasPrefix(EndMarker, strings.TrimSpace(b.tail)) {
		visible = append(visible[:len(visible):len(visible)], b.tail)
	}
	upsert(res, byPath, model.FileEdit{
		ID:          model.EditID(b.path),
		Path:        b.path,
		Content:     strings.Join(visible, "\n"),
		IsStreaming: true,
	})
	res.Unterminated = append(res.Unterminated, b.path)
}

// upsert keeps the position of the first block for a path but lets a later
// block replace its content.
func upsert(res *Result, byPath map[string]int, edit model.FileEdit) {
	if i, ok := byPath[edit.Path]; ok {
		res.Files[i] = edit
		return
	}
	byPath[edit.Path] = len(res.Files)
	res.Files = append(res.Files, edit)
}

func headerPath(trimmed string) (string, bool) {
	if !strings.HasPrefix(trimmed, BeginMarker) {
		return "", false
	}
	rest := trimmed[len(BeginMarker):]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' && rest[0] != ':' {
		// "BEGIN FILES" and friends are prose.
		return "", false
	}
	rest = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), ":"))
	rest = strings.Trim(rest, "`\"'")
	return rest, true
}

type rawLine struct {
	text     string
	complete bool
}

// splitRaw splits text into lines, marking whether each ended in a newline.
// Only the last line can be incomplete.
func splitRaw(text string) []rawLine {
	if text == "" {
		return nil
	}
	parts := strings.Split(text, "\n")
	lines := make([]rawLine, 0, len(parts))
	for i, p := range parts {
		last := i == len(parts)-1
		if last && p == "" {
			break
		}
		lines = append(lines, rawLine{text: p, complete: !last})
	}
	return lines
}
