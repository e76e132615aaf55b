package streamedit

import (
	"context"
	"fmt"
	"io"

	"github.com/sokinpui/streamedit/cli"
	"github.com/sokinpui/streamedit/model"
)

// Config for using streamedit as a library.
type Config struct {
	// Root is the workspace the edits apply to. Empty means the git root of
	// the working directory, or the working directory itself.
	Root string
	// Accept responses that mix explanation text with edits.
	AllowProse bool
	// Write through Neovim buffers instead of the filesystem.
	Nvim bool
}

// Apply validates a complete response, writes every file edit it contains
// and verifies that the files changed. A response that cannot be applied is
// returned as an error wrapping ErrBlocked.
func Apply(content string, config Config) (model.Summary, error) {
	cliCfg := &cli.Config{
		Root:       config.Root,
		AllowProse: config.AllowProse,
		Nvim:       config.Nvim,
		ChunkSize:  len(content) + 1,
		Plain:      true,
		Yes:        true,
	}

	ctx := context.Background()
	app, err := New(ctx, cliCfg)
	if err != nil {
		return model.Summary{}, fmt.Errorf("failed to initialize streamedit app: %w", err)
	}
	defer app.Close()

	app.read = func() (string, error) { return content, nil }
	app.out = io.Discard
	app.quiet = true
	return app.Execute(ctx)
}
