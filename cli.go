package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"dreamlines/book"
	"dreamlines/core"
	"dreamlines/credential"
	"dreamlines/db"
	"dreamlines/imagegen"
	"dreamlines/pdfassembler"
	"dreamlines/webui"
)

var (
	errNotReady        = errors.New("no API key selected")
	errHistoryDisabled = errors.New("run history is disabled (HISTORY_ENABLED=false)")
)

// cliOptions are the flags shared by every command.
type cliOptions struct {
	envFile string
}

// newRootCommand builds the command tree. It holds no global state so tests
// can build as many as they like.
func newRootCommand() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:           "dreamlines",
		Short:         "Personalized coloring book generator",
		Long:          "DreamLines turns a theme and a child's name into a five-page coloring book PDF.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", core.DefaultEnvFile, "dotenv file with API keys and settings")

	root.AddCommand(
		newServeCommand(opts),
		newGenerateCommand(opts),
		newCheckCommand(opts),
		newHistoryCommand(opts),
		newServiceCommand(opts),
	)
	return root
}

// bootstrap loads the environment, configuration, logger and App. Commands
// that print their own output pass io.Discard as console; the log file
// still receives everything.
func bootstrap(cmd *cobra.Command, opts *cliOptions, console io.Writer) (*App, error) {
	envErr := loadEnvironment(opts.envFile)
	if opts.envFile != "" {
		os.Setenv("ENV_FILE", opts.envFile)
	}

	cfg, err := core.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg, console)
	if err != nil {
		return nil, err
	}
	if envErr != nil {
		logger.Warn(envErr.Error())
	}

	return NewApp(cmd.Context(), cfg, logger)
}

func newServeCommand(opts *cliOptions) *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runningUnderServiceManager() {
				return runService(opts, host, port)
			}
			app, err := bootstrap(cmd, opts, nil)
			if err != nil {
				return err
			}
			return app.Serve(cmd.Context(), host, port)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default WEBUI_HOST)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default WEBUI_PORT)")
	return cmd
}

func newGenerateCommand(opts *cliOptions) *cobra.Command {
	var theme, name, quality, outDir string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a coloring book from the command line",
		Example: `  dreamlines generate --theme "Space Dinosaurs" --name Leo
  dreamlines generate --theme "Robot City" --name Ada --quality 4K --out books/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := imagegen.ParseQuality(quality)
			if err != nil {
				return err
			}
			req, err := book.NewRequest(theme, name, q)
			if err != nil {
				return fmt.Errorf("--theme and --name are required: %w", err)
			}

			app, err := bootstrap(cmd, opts, io.Discard)
			if err != nil {
				return err
			}
			defer app.Close()

			out := cmd.OutOrStdout()
			if err := app.gate.Require(); err != nil {
				printCredential(out, app.gate.State())
				return errNotReady
			}
			path, err := generateBook(cmd, app, req, outDir)
			if err != nil {
				return err
			}
			color.New(color.FgGreen, color.Bold).Fprintf(out, "Saved %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&theme, "theme", "t", "", "book theme, e.g. \"Space Dinosaurs\"")
	cmd.Flags().StringVarP(&name, "name", "n", "", "child's name for the cover")
	cmd.Flags().StringVarP(&quality, "quality", "q", string(imagegen.QualityLow), "low|medium|high or 1K|2K|4K")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "directory for the PDF")
	return cmd
}

// generateBook runs the five page calls with live progress, then writes and
// verifies the PDF.
func generateBook(cmd *cobra.Command, app *App, req book.Request, outDir string) (string, error) {
	out := cmd.OutOrStdout()
	orchestrator, err := book.NewOrchestrator(app.generator, app.logger, book.Config{
		Interval: app.cfg.PageInterval,
		Recorder: app.recorder(),
	})
	if err != nil {
		return "", err
	}

	progress := color.New(color.FgCyan)
	unsubscribe := orchestrator.Subscribe(book.ObserverFunc(func(run book.Run) {
		if run.Status == book.StatusRunning {
			progress.Fprintf(out, "[%3d%%] %s\n", run.Progress, webui.ProgressLabel(run))
		}
	}))
	defer unsubscribe()

	color.New(color.Bold).Fprintf(out, "Creating %q for %s (%s)\n", req.Theme, req.RecipientName, req.Quality.Label())
	run, err := orchestrator.Run(cmd.Context(), req)
	if err != nil {
		color.New(color.FgRed).Fprintln(out, run.Error)
		return "", err
	}
	color.New(color.FgGreen).Fprintf(out, "[100%%] %d pages in %s\n", len(run.Pages), webui.FormatDuration(run.Duration()))

	doc, err := app.assembler.Assemble(run.Pages, req.Theme, req.RecipientName)
	if err != nil {
		return "", err
	}
	for _, w := range doc.Warnings {
		color.New(color.FgYellow).Fprintf(out, "warning: %s\n", w)
	}
	if err := pdfassembler.Verify(doc); err != nil {
		return "", err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	path := bookPath(outDir, doc.Filename)
	if err := os.WriteFile(path, doc.Bytes, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// bookPath places filename directly inside outDir, whatever it contains.
func bookPath(outDir, filename string) string {
	return filepath.Join(outDir, filepath.Base(filepath.Clean("/"+filename)))
}

func newCheckCommand(opts *cliOptions) *cobra.Command {
	var selectKey bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether an API key is selected",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap(cmd, opts, io.Discard)
			if err != nil {
				return err
			}
			defer app.Close()

			state := app.gate.State()
			if selectKey && !state.Ready() {
				state, _ = app.gate.Select(cmd.Context())
			}
			printCredential(cmd.OutOrStdout(), state)
			if !state.Ready() {
				return errNotReady
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&selectKey, "select", false, "reload the env file when no key is selected")
	return cmd
}

func printCredential(out io.Writer, state credential.State) {
	switch state.Status {
	case credential.StatusReady:
		color.New(color.FgGreen, color.Bold).Fprintln(out, "✓ API key selected")
	case credential.StatusChecking:
		color.New(color.FgYellow).Fprintln(out, "… checking for an API key")
	default:
		color.New(color.FgRed, color.Bold).Fprintln(out, "✗ No API key selected")
		if state.Note != "" {
			color.New(color.FgHiBlack).Fprintln(out, "  "+state.Note)
		} else {
			color.New(color.FgHiBlack).Fprintf(out, "  Set one of %v in the env file and run again.\n", credential.KeyVars)
		}
		if state.Error != "" {
			color.New(color.FgRed).Fprintln(out, "  "+state.Error)
		}
	}
}

func newHistoryCommand(opts *cliOptions) *cobra.Command {
	var limit, pruneDays int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent book runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap(cmd, opts, io.Discard)
			if err != nil {
				return err
			}
			defer app.Close()
			if app.runs == nil {
				return errHistoryDisabled
			}

			out := cmd.OutOrStdout()
			if pruneDays > 0 {
				res, err := app.history.Prune(cmd.Context(), pruneDays)
				if err != nil {
					return err
				}
				color.New(color.FgHiBlack).Fprintf(out, "Pruned %d runs older than %d days\n", res.RunsDeleted, pruneDays)
			}

			records, err := app.runs.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printHistory(out, records)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", db.DefaultHistoryLimit, "number of runs to show")
	cmd.Flags().IntVar(&pruneDays, "prune-days", 0, "delete runs older than this many days first")
	return cmd
}

func printHistory(out io.Writer, records []db.RunRecord) {
	if len(records) == 0 {
		color.New(color.FgHiBlack).Fprintln(out, "No runs recorded yet.")
		return
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tTHEME\tRECIPIENT\tQUALITY\tSTATUS\tDURATION\tERROR")
	for _, r := range records {
		status := r.Status
		switch book.Status(r.Status) {
		case book.StatusSucceeded:
			status = color.GreenString(status)
		case book.StatusFailed:
			status = color.RedString(status)
		}
		quality := r.Quality
		if q, err := imagegen.ParseQuality(r.Quality); err == nil {
			quality = q.ImageSize()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime),
			r.Theme, r.Recipient, quality, status,
			webui.FormatDuration(r.Duration()), r.ErrorMessage)
	}
	tw.Flush()
}
