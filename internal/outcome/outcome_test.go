package outcome

import (
	"errors"
	"os"
	"strings"
	"testing"
)

type memFS map[string]string

func (m memFS) Read(path string) (string, bool, error) {
	c, ok := m[path]
	return c, ok, nil
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		before  map[string]string
		after   map[string]string
		changed bool
		explain string
	}{
		{"modified", map[string]string{"a": "x"}, map[string]string{"a": "y"}, true, ""},
		{"identical", map[string]string{"a": "x"}, map[string]string{"a": "x"}, false, "identical to existing file"},
		{"created", map[string]string{}, map[string]string{"a": "x"}, true, ""},
		{"created empty", map[string]string{}, map[string]string{"a": ""}, false, "was empty"},
		{"still missing", map[string]string{}, map[string]string{}, false, "was empty"},
		{"deleted", map[string]string{"a": "x"}, map[string]string{}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Validate([]string{"a"}, tt.before, tt.after)
			if out.ChangesApplied != tt.changed || out.PerFileDelta["a"] != tt.changed {
				t.Errorf("outcome = %+v, want changed %v", out, tt.changed)
			}
			if tt.changed && out.NoOpExplanation != "" {
				t.Errorf("unexpected explanation %q", out.NoOpExplanation)
			}
			if !tt.changed && !strings.Contains(out.NoOpExplanation, tt.explain) {
				t.Errorf("explanation = %q, want it to contain %q", out.NoOpExplanation, tt.explain)
			}
		})
	}

	if out := Validate(nil, nil, nil); out.ChangesApplied || out.NoOpExplanation == "" {
		t.Errorf("empty apply = %+v", out)
	}
}

func TestValidateAnyChanged(t *testing.T) {
	out := Validate([]string{"a", "b"},
		map[string]string{"a": "1", "b": "2"},
		map[string]string{"a": "1", "b": "3"})
	if !out.ChangesApplied || out.PerFileDelta["a"] || !out.PerFileDelta["b"] {
		t.Errorf("outcome = %+v", out)
	}
}

func TestTracker(t *testing.T) {
	files := memFS{"a.txt": "old", "same.txt": "keep"}
	tr, err := Begin(files, []string{"a.txt", "same.txt", "new.txt", "broken.txt"})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if c, ok := tr.Before("a.txt"); !ok || c != "old" {
		t.Errorf("Before(a.txt) = %q, %v", c, ok)
	}

	files["a.txt"] = "new"
	files["new.txt"] = "created"
	files["broken.txt"] = "partial"
	tr.Fail("broken.txt", errors.New("disk full"))

	out := tr.Finish(files)
	if !out.ChangesApplied {
		t.Fatalf("expected changes")
	}
	want := map[string]bool{"a.txt": true, "same.txt": false, "new.txt": true, "broken.txt": false}
	for path, changed := range want {
		if out.PerFileDelta[path] != changed {
			t.Errorf("delta[%s] = %v, want %v", path, out.PerFileDelta[path], changed)
		}
	}
	if out.Failures["broken.txt"] != "disk full" {
		t.Errorf("failures = %v", out.Failures)
	}
}

func TestTrackerAllFailed(t *testing.T) {
	files := memFS{}
	tr, err := Begin(files, []string{"a.txt"})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	tr.Fail("a.txt", errors.New("permission denied"))
	out := tr.Finish(files)
	if out.ChangesApplied {
		t.Errorf("failed write reported as applied")
	}
	if !strings.Contains(out.NoOpExplanation, "a.txt") {
		t.Errorf("explanation = %q", out.NoOpExplanation)
	}
}

// flakyFS serves the first read of each path and fails every later one.
type flakyFS struct {
	files map[string]string
	reads map[string]int
}

func (f *flakyFS) Read(path string) (string, bool, error) {
	f.reads[path]++
	if f.reads[path] > 1 {
		return "", false, os.ErrPermission
	}
	c, ok := f.files[path]
	return c, ok, nil
}

func TestTrackerUnreadableAfterApply(t *testing.T) {
	files := &flakyFS{files: map[string]string{"a.txt": "old"}, reads: map[string]int{}}
	tr, err := Begin(files, []string{"a.txt"})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	out := tr.Finish(files)
	if out.ChangesApplied || out.PerFileDelta["a.txt"] {
		t.Errorf("unverified file reported as changed: %+v", out)
	}
	if !strings.Contains(out.Failures["a.txt"], "could not verify") {
		t.Errorf("failures = %v", out.Failures)
	}
	if out.NoOpExplanation == "" {
		t.Errorf("expected an explanation")
	}
}
