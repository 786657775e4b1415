// Command dreamlines generates personalized five-page coloring books. It
// serves a web UI, runs headless generations and manages its OS service.
package main

import (
	"context"
	"errors"
	"os"

	"github.com/fatih/color"

	"dreamlines/core"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:]))
}

// run executes the command line and maps the outcome to an exit code.
func run(ctx context.Context, args []string) int {
	root := newRootCommand()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		color.New(color.FgRed).Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
		if cfgErr, ok := core.IsConfigError(err); ok && cfgErr.Code != "" {
			color.New(color.FgHiBlack).Fprintf(root.ErrOrStderr(), "(%s)\n", cfgErr.Code)
		}
		if errors.Is(err, context.Canceled) {
			return core.ExitCodeSIGINT
		}
		return core.ExitCodeError
	}
	return core.ExitCodeSuccess
}
