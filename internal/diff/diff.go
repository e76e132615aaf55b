package diff

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/sokinpui/streamedit/model"
)

// Mode selects the line alignment strategy.
type Mode int

const (
	// Positional compares line i of the original with line i of the update.
	// It is O(n) and over-reports changes when lines shift.
	Positional Mode = iota
	// LCS aligns lines with a longest-common-subsequence matcher.
	LCS
)

// Options configures Generate.
type Options struct {
	Mode Mode
}

// Generate diffs original (nil when the file does not exist) against updated
// using positional alignment.
func Generate(original *string, updated string) []model.DiffRecord {
	return GenerateWith(Options{}, original, updated)
}

// GenerateWith diffs using the given options. Line numbers are 1-based: the
// original's numbering for unchanged and removed lines, the update's for
// added lines.
func GenerateWith(opts Options, original *string, updated string) []model.DiffRecord {
	newLines := SplitLines(updated)
	if original == nil {
		records := make([]model.DiffRecord, 0, len(newLines))
		for i, line := range newLines {
			records = append(records, model.DiffRecord{LineNumber: i + 1, Content: line, Kind: model.DiffAdded})
		}
		return records
	}
	oldLines := SplitLines(*original)
	if opts.Mode == LCS {
		return matched(oldLines, newLines)
	}
	return positional(oldLines, newLines)
}

func positional(oldLines, newLines []string) []model.DiffRecord {
	n := max(len(oldLines), len(newLines))
	records := make([]model.DiffRecord, 0, n)
	for i := 0; i < n; i++ {
		hasOld, hasNew := i < len(oldLines), i < len(newLines)
		if hasOld && hasNew && oldLines[i] == newLines[i] {
			records = append(records, model.DiffRecord{LineNumber: i + 1, Content: oldLines[i], Kind: model.DiffUnchanged})
			continue
		}
		if hasOld {
			records = append(records, model.DiffRecord{LineNumber: i + 1, Content: oldLines[i], Kind: model.DiffRemoved})
		}
		if hasNew {
			records = append(records, model.DiffRecord{LineNumber: i + 1, Content: newLines[i], Kind: model.DiffAdded})
		}
	}
	return records
}

func matched(oldLines, newLines []string) []model.DiffRecord {
	m := difflib.NewMatcher(oldLines, newLines)
	var records []model.DiffRecord
	removed := func(i1, i2 int) {
		for i := i1; i < i2; i++ {
			records = append(records, model.DiffRecord{LineNumber: i + 1, Content: oldLines[i], Kind: model.DiffRemoved})
		}
	}
	added := func(j1, j2 int) {
		for j := j1; j < j2; j++ {
			records = append(records, model.DiffRecord{LineNumber: j + 1, Content: newLines[j], Kind: model.DiffAdded})
		}
	}
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'e':
			for i := op.I1; i < op.I2; i++ {
				records = append(records, model.DiffRecord{LineNumber: i + 1, Content: oldLines[i], Kind: model.DiffUnchanged})
			}
		case 'd':
			removed(op.I1, op.I2)
		case 'i':
			added(op.J1, op.J2)
		case 'r':
			removed(op.I1, op.I2)
			added(op.J1, op.J2)
		}
	}
	return records
}

// Stats counts added and removed records.
func Stats(records []model.DiffRecord) (added, removed int) {
	for _, r := range records {
		switch r.Kind {
		case model.DiffAdded:
			added++
		case model.DiffRemoved:
			removed++
		}
	}
	return added, removed
}

// Unified renders a unified diff of the two contents for plain-text
// previews. An absent original is diffed as /dev/null.
func Unified(path string, original *string, updated string, context int) (string, error) {
	from := "a/" + path
	var a []string
	if original == nil {
		from = "/dev/null"
	} else {
		a = terminated(*original)
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        a,
		B:        terminated(updated),
		FromFile: from,
		ToFile:   "b/" + path,
		Context:  context,
	})
}

// terminated returns the lines of content each ending in "\n", the form
// the unified writer expects.
func terminated(content string) []string {
	lines := SplitLines(content)
	for i := range lines {
		lines[i] += "\n"
	}
	return lines
}

// SplitLines splits content into lines. Handles both LF and CRLF.
// A trailing newline does not produce an extra empty line.
func SplitLines(content string) []string {
	if content == "" {
		return nil
	}
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n")
}
