package cli

import (
	"testing"
	"time"
)

func TestParseArgs(t *testing.T) {
	cfg, err := ParseArgs([]string{"-y", "--select", "./a.go,pkg/b.go", "--chunk-interval", "5ms", "rename", "`a`", "to", "`b`"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if !cfg.Yes || cfg.ChunkInterval != 5*time.Millisecond || cfg.ChunkSize != 24 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Instruction != "rename `a` to `b`" {
		t.Errorf("instruction = %q", cfg.Instruction)
	}
	if len(cfg.Select) != 2 || cfg.Select[0] != "a.go" || cfg.Select[1] != "pkg/b.go" {
		t.Errorf("select = %v", cfg.Select)
	}
}

func TestParseArgsRejects(t *testing.T) {
	for _, args := range [][]string{
		{"--dry-run", "--yes"},
		{"--chunk-size", "0"},
		{"--select", "../x"},
		{"--no-such-flag"},
	} {
		if _, err := ParseArgs(args); err == nil {
			t.Errorf("ParseArgs(%v) succeeded", args)
		}
	}
}
