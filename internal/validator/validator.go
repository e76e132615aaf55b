package validator

import (
	"fmt"
	"strings"

	"github.com/sokinpui/streamedit/internal/parser"
	"github.com/sokinpui/streamedit/model"
)

// Options configures validation.
type Options struct {
	// AllowProse tolerates explanation text as long as at least one edit
	// was extracted.
	AllowProse bool
}

const excerptLen = 60

var noOpSentinels = map[string]bool{
	"NO CHANGES NEEDED": true,
	"NO CHANGES":        true,
	"NO_CHANGES":        true,
	"NO-OP":             true,
	"NOOP":              true,
	"NOTHING TO CHANGE": true,
}

// Validate classifies a completed response in strict mode.
func Validate(text string) model.ValidationOutcome {
	return ValidateWith(Options{}, text)
}

// ValidateWith classifies a completed response. It must only be called once
// the stream is known to be complete.
func ValidateWith(opts Options, text string) model.ValidationOutcome {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return model.ValidationOutcome{Kind: model.OutcomeSilentFailure, Reason: "response was empty"}
	}
	if IsNoOp(trimmed) {
		return model.ValidationOutcome{Kind: model.OutcomeNoOp}
	}

	r := parser.Analyze(text)
	if len(r.Unterminated) > 0 {
		return invalid(fmt.Sprintf("file block %s was not terminated", r.Unterminated[0]))
	}
	edits := len(r.Files) + len(r.Commands)
	if r.Prose != "" && (!opts.AllowProse || edits == 0) {
		return invalid("unexpected prose outside file or command blocks: " + excerpt(r.Prose))
	}
	if edits == 0 && len(r.Discarded) > 0 {
		return invalid(fmt.Sprintf("file block path %q is not a safe relative path", r.Discarded[0]))
	}
	return model.ValidationOutcome{Kind: model.OutcomeValid}
}

// IsNoOp reports whether text is one of the explicit "no changes" sentinels.
func IsNoOp(text string) bool {
	s := strings.ToUpper(strings.TrimSpace(text))
	s = strings.TrimRight(s, ".!")
	return noOpSentinels[strings.TrimSpace(s)]
}

func invalid(reason string) model.ValidationOutcome {
	return model.ValidationOutcome{Kind: model.OutcomeInvalidFormat, Reason: reason}
}

func excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= excerptLen {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%q", string(r[:excerptLen])+"...")
}
