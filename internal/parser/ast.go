package parser

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// CodeBlock represents a parsed fenced code block from markdown content.
type CodeBlock struct {
	// Hint is the content of the paragraph immediately preceding the code block.
	Hint string
	// Lang is the first word of the info string (e.g., "sh", "go").
	Lang string
	// Content is the raw text inside the code block. For a fence that is not
	// closed yet only newline-terminated lines are included.
	Content string
	Closed  bool
	// Start and End delimit the block in the source, including the hint
	// paragraph and both fence lines.
	Start int
	End   int
}

// ExtractCodeBlocks uses a markdown AST to find all fenced code blocks
// and their preceding paragraph, which is treated as a hint.
func ExtractCodeBlocks(source []byte) ([]CodeBlock, error) {
	var blocks []CodeBlock
	parser := goldmark.DefaultParser()
	root := parser.Parse(text.NewReader(source))

	walker := func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		fencedCodeBlock, ok := node.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}

		var block CodeBlock
		openEnd := 0
		if fencedCodeBlock.Info != nil {
			seg := fencedCodeBlock.Info.Segment
			if fields := strings.Fields(string(seg.Value(source))); len(fields) > 0 {
				block.Lang = strings.ToLower(fields[0])
			}
			block.Start = lineStart(source, seg.Start)
			openEnd = lineEnd(source, seg.Stop)
		} else if lines := fencedCodeBlock.Lines(); lines.Len() > 0 {
			// Without an info string the opening fence is the line before
			// the first content line.
			first := lineStart(source, lines.At(0).Start)
			block.Start = lineStart(source, max(first-1, 0))
			openEnd = first
		} else {
			return ast.WalkSkipChildren, nil
		}

		contentEnd := openEnd
		lines := fencedCodeBlock.Lines()
		if lines.Len() > 0 {
			contentEnd = lines.At(lines.Len() - 1).Stop
		}
		block.Closed, block.End = closingFence(source, contentEnd)

		var content bytes.Buffer
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			// goldmark pads a last line without newline, so check the source.
			if !block.Closed && i == lines.Len()-1 && !terminatedLine(source, seg) {
				break
			}
			content.Write(seg.Value(source))
		}
		block.Content = content.String()

		if prev := fencedCodeBlock.PreviousSibling(); prev != nil {
			if p, ok := prev.(*ast.Paragraph); ok && p.Lines().Len() > 0 {
				block.Hint = paragraphText(p, source)
				block.Start = lineStart(source, p.Lines().At(0).Start)
			}
		}

		blocks = append(blocks, block)
		return ast.WalkSkipChildren, nil
	}

	if err := ast.Walk(root, walker); err != nil {
		return nil, err
	}

	return blocks, nil
}

func paragraphText(p *ast.Paragraph, source []byte) string {
	var b strings.Builder
	lines := p.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return strings.TrimSpace(b.String())
}

// terminatedLine reports whether seg ends with a newline in the raw source.
func terminatedLine(source []byte, seg text.Segment) bool {
	return seg.Stop > seg.Start && seg.Stop <= len(source) && source[seg.Stop-1] == '\n'
}

// closingFence reports whether the line starting at pos closes a fence and
// returns the offset just past the block.
func closingFence(source []byte, pos int) (bool, int) {
	if pos >= len(source) {
		return false, len(source)
	}
	end := lineEnd(source, pos)
	line := bytes.TrimSpace(source[pos:end])
	if bytes.HasPrefix(line, []byte("```")) || bytes.HasPrefix(line, []byte("~~~")) {
		return true, end
	}
	return false, len(source)
}

func lineStart(source []byte, pos int) int {
	if pos > len(source) {
		pos = len(source)
	}
	return bytes.LastIndexByte(source[:pos], '\n') + 1
}

// lineEnd returns the offset just past the newline ending the line at pos.
func lineEnd(source []byte, pos int) int {
	if pos >= len(source) {
		return len(source)
	}
	if i := bytes.IndexByte(source[pos:], '\n'); i >= 0 {
		return pos + i + 1
	}
	return len(source)
}
