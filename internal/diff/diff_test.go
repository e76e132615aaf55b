package diff

import (
	"strings"
	"testing"

	"github.com/sokinpui/streamedit/model"
)

func ptr(s string) *string { return &s }

func kinds(records []model.DiffRecord) string {
	var b strings.Builder
	for _, r := range records {
		switch r.Kind {
		case model.DiffAdded:
			b.WriteByte('+')
		case model.DiffRemoved:
			b.WriteByte('-')
		default:
			b.WriteByte('=')
		}
	}
	return b.String()
}

func TestGenerateNewFile(t *testing.T) {
	records := Generate(nil, "a\nb")
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	for i, r := range records {
		if r.Kind != model.DiffAdded || r.LineNumber != i+1 {
			t.Errorf("record %d = %+v, want added line %d", i, r, i+1)
		}
	}
}

func TestGenerateIdentical(t *testing.T) {
	records := Generate(ptr("a\nb"), "a\nb")
	if got := kinds(records); got != "==" {
		t.Fatalf("kinds = %q, want \"==\"", got)
	}
	if records[1].LineNumber != 2 || records[1].Content != "b" {
		t.Errorf("unexpected second record: %+v", records[1])
	}
}

func TestGeneratePositional(t *testing.T) {
	tests := []struct {
		name     string
		original string
		updated  string
		want     string
	}{
		{"changed middle line", "a\nb\nc\n", "a\nx\nc\n", "=-+="},
		{"appended line", "a\n", "a\nb\n", "=+"},
		{"truncated", "a\nb\n", "a\n", "=-"},
		// An insertion shifts every following line and is over-reported.
		{"insertion shifts lines", "a\nb\nc", "x\na\nb\nc", "-+-+-++"},
		{"crlf normalized", "a\r\nb\r\n", "a\nb\n", "=="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := kinds(Generate(ptr(tt.original), tt.updated))
			if got != tt.want {
				t.Errorf("kinds = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerateLCS(t *testing.T) {
	records := GenerateWith(Options{Mode: LCS}, ptr("a\nb\nc"), "x\na\nb\nc")
	if got := kinds(records); got != "+===" {
		t.Fatalf("kinds = %q, want \"+===\"", got)
	}
	if records[0].LineNumber != 1 || records[0].Content != "x" {
		t.Errorf("unexpected insertion record: %+v", records[0])
	}
	// Unchanged lines keep the original numbering.
	if records[3].LineNumber != 3 || records[3].Content != "c" {
		t.Errorf("unexpected trailing record: %+v", records[3])
	}

	records = GenerateWith(Options{Mode: LCS}, ptr("a\nb\nc"), "a\nB\nc")
	if got := kinds(records); got != "=-+=" {
		t.Errorf("replace kinds = %q, want \"=-+=\"", got)
	}
}

func TestStats(t *testing.T) {
	added, removed := Stats(Generate(ptr("a\nb\nc"), "a\nx\nc\nd"))
	if added != 2 || removed != 1 {
		t.Errorf("Stats = (%d, %d), want (2, 1)", added, removed)
	}
}

func TestUnified(t *testing.T) {
	out, err := Unified("new.txt", nil, "hello\n", 3)
	if err != nil {
		t.Fatalf("Unified: %v", err)
	}
	if !strings.Contains(out, "--- /dev/null") || !strings.Contains(out, "+++ b/new.txt") {
		t.Errorf("missing headers in:\n%s", out)
	}
	if !strings.Contains(out, "+hello\n") {
		t.Errorf("missing added line in:\n%s", out)
	}

	out, err = Unified("a.txt", ptr("one\ntwo\n"), "one\nthree\n", 1)
	if err != nil {
		t.Fatalf("Unified: %v", err)
	}
	for _, want := range []string{"--- a/a.txt", "-two\n", "+three\n", " one\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSplitLines(t *testing.T) {
	if got := SplitLines(""); got != nil {
		t.Errorf("SplitLines(\"\") = %v, want nil", got)
	}
	if got := SplitLines("a\n\nb\n"); len(got) != 3 || got[1] != "" {
		t.Errorf("SplitLines kept wrong lines: %q", got)
	}
}
