package validator

import (
	"strings"
	"testing"

	"github.com/sokinpui/streamedit/model"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		text string
		want model.OutcomeKind
	}{
		{"empty", "", model.OutcomeSilentFailure},
		{"whitespace", "  \n\t\n", model.OutcomeSilentFailure},
		{"sentinel", "NO CHANGES NEEDED", model.OutcomeNoOp},
		{"sentinel lower with period", "  no changes needed.\n", model.OutcomeNoOp},
		{"sentinel noop", "NOOP!", model.OutcomeNoOp},
		{"prose only", "Sure, here's the fix:\nchange line 3 to return nil", model.OutcomeInvalidFormat},
		{"prose around file", "Sure, here's the fix:\nBEGIN FILE a.go\npackage a\nEND FILE\n", model.OutcomeInvalidFormat},
		{"unterminated", "BEGIN FILE a.go\npackage a\n", model.OutcomeInvalidFormat},
		{"file only", "BEGIN FILE a.go\npackage a\nEND FILE\n", model.OutcomeValid},
		{"commands only", "```sh\ngo test ./...\n```\n", model.OutcomeValid},
		{"only unsafe path", "BEGIN FILE ../x\ny\nEND FILE\n", model.OutcomeInvalidFormat},
		{"empty file block", "BEGIN FILE a.go\nEND FILE\n", model.OutcomeValid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Validate(tt.text)
			if got.Kind != tt.want {
				t.Errorf("Validate(%q) = %s, want %s", tt.text, got, tt.want)
			}
			if got.Kind == model.OutcomeInvalidFormat && got.Reason == "" {
				t.Errorf("invalidFormat without a reason")
			}
		})
	}
}

func TestValidateAllowProse(t *testing.T) {
	opts := Options{AllowProse: true}
	withFile := "Here you go:\nBEGIN FILE a.go\npackage a\nEND FILE\nLet me know."
	if got := ValidateWith(opts, withFile); got.Kind != model.OutcomeValid {
		t.Errorf("prose with edits = %s, want valid", got)
	}
	if got := ValidateWith(opts, "I could not find anything to change."); got.Kind != model.OutcomeInvalidFormat {
		t.Errorf("prose without edits = %s, want invalidFormat", got)
	}
	if got := ValidateWith(opts, "BEGIN FILE a.go\npackage a"); got.Kind != model.OutcomeInvalidFormat {
		t.Errorf("unterminated = %s, want invalidFormat", got)
	}
}

func TestValidateReasons(t *testing.T) {
	got := Validate("BEGIN FILE a.go\nx\nEND FILE\nBEGIN FILE b.go\ny")
	if !strings.Contains(got.Reason, "b.go") {
		t.Errorf("reason %q does not name the open block", got.Reason)
	}
	got = Validate(strings.Repeat("word ", 100))
	if !strings.HasSuffix(got.Reason, `..."`) {
		t.Errorf("long prose not truncated: %q", got.Reason)
	}
}
