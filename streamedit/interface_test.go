package streamedit_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sokinpui/streamedit/streamedit"
)

func TestApply(t *testing.T) {
	root := t.TempDir()

	const content = "BEGIN FILE web/src/index.js\nconsole.log(\"hello world\");\nEND FILE\n"

	summary, err := streamedit.Apply(content, streamedit.Config{Root: root})
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.Created) == 0 {
		t.Fatal("expected files to be created, but none were")
	}
	if !strings.HasSuffix(summary.Created[0], filepath.Join("web", "src", "index.js")) {
		t.Fatalf("expected 'web/src/index.js' to be created, got '%s'", summary.Created[0])
	}
	data, err := os.ReadFile(filepath.Join(root, "web", "src", "index.js"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "console.log(\"hello world\");\n" {
		t.Errorf("content = %q", data)
	}
}

func TestApplyIdenticalContentIsNotSuccess(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("same\n"), 0644); err != nil {
		t.Fatal(err)
	}

	summary, err := streamedit.Apply("BEGIN FILE a.txt\nsame\nEND FILE\n", streamedit.Config{Root: root})
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.Modified) != 0 || len(summary.Created) != 0 {
		t.Errorf("unchanged file reported as updated: %+v", summary)
	}
	if !strings.HasPrefix(summary.Message, "No changes applied:") {
		t.Errorf("message = %q", summary.Message)
	}
}

func TestApplyNoOpResponse(t *testing.T) {
	summary, err := streamedit.Apply("No changes needed.", streamedit.Config{Root: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Message != "No changes needed." {
		t.Errorf("message = %q", summary.Message)
	}
}

func TestApplyRejectsProse(t *testing.T) {
	const content = "Here you go:\nBEGIN FILE a.txt\na\nEND FILE\n"

	_, err := streamedit.Apply(content, streamedit.Config{Root: t.TempDir()})
	if !errors.Is(err, streamedit.ErrBlocked) {
		t.Fatalf("err = %v, want ErrBlocked", err)
	}

	if _, err := streamedit.Apply(content, streamedit.Config{Root: t.TempDir(), AllowProse: true}); err != nil {
		t.Errorf("AllowProse: %v", err)
	}
}
