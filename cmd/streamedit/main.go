package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/sokinpui/streamedit/cli"
	"github.com/sokinpui/streamedit/internal/ui"
	"github.com/sokinpui/streamedit/streamedit"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := cli.ParseFlags()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := streamedit.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		return 1
	}
	defer app.Close()

	var bar *ui.ProgressBar
	app.SetProgressCallback(func(current, total int) {
		if bar == nil {
			bar = ui.NewProgressBar(total, "Writing")
			bar.Start()
		}
		bar.Set(current)
		if current == total {
			bar.Finish()
		}
	})

	summary, err := app.Execute(ctx)
	if err != nil {
		var detailed *streamedit.DetailedError
		if errors.As(err, &detailed) {
			fmt.Fprintf(os.Stderr, "\n--- Stack Trace ---\n%s\n", detailed.Stack)
		}
		if summary.Message != "" {
			ui.Error("%s", summary.Message)
		} else {
			ui.Error("Error: %v", err)
		}
		return 1
	}

	ui.PrintUpdateSummary(summary)
	if len(summary.Failed) > 0 {
		return 1
	}
	return 0
}
