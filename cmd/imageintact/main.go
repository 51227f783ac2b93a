/*
imageintact is a reference command-line driver for the imageintact-engine
verified multi-destination backup engine. It exercises the engine exactly
the way an integrator would: parse a source and 1-4 destinations, run the
engine to completion (scan, copy, verify, quarantine-on-conflict), render
a progress bar per destination while it runs, then print a session report.

It is not the product UI (that is explicitly out of scope); it exists to
give the engine a runnable, scriptable entry point with sane exit codes
for automation.

# USAGE

	imageintact --source=ABSPATH --dest=ABSPATH [--dest=ABSPATH ...] [flags]

# RETURN CODES

  - `0`: all destinations Complete, zero failures
  - `1`: Complete with some per-file failures
  - `2`: Cancelled by user
  - `3`: Refused pre-flight (space, source-as-destination, unreadable source)
  - `4`: Internal error
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"

	"github.com/kmichels/imageintact-engine/internal/core"
	"github.com/kmichels/imageintact-engine/internal/platform"
	"github.com/kmichels/imageintact-engine/internal/report"
)

const (
	exitCodeSuccess           = 0
	exitCodeCompleteWithError = 1
	exitCodeCancelled         = 2
	exitCodeRefused           = 3
	exitCodeInternal          = 4

	defaultLogLevel = slog.LevelInfo

	exitTimeout = 10 * time.Second
)

var (
	// Version is the application's version (filled in during compilation).
	Version string

	errArgConfigMalformed      = errors.New("--config yaml file is malformed")
	errArgConfigMissing        = errors.New("--config yaml file does not exist")
	errArgMissingSource        = errors.New("--source must be set")
	errArgSourceNotAbs         = errors.New("--source must be an absolute path")
	errArgDestCount            = errors.New("--dest must be specified between 1 and 4 times")
	errArgDestNotAbs           = errors.New("--dest paths must be absolute")
	errArgDestIsSource         = errors.New("--dest cannot be the same path as --source")
	errArgInvalidFilter        = errors.New("--filter has a not recognized value")
	errArgInvalidLogLevel      = errors.New("--log-level has a not recognized value")
	errArgInvalidReportFormat  = errors.New("--report-format must be 'text' or 'json'")
)

type program struct {
	fsys   afero.Fs
	stdout io.Writer
	stderr io.Writer

	opts  *programOptions
	flags *flag.FlagSet

	log    *slog.Logger
	events *core.EventLog

	provokeTestPanic bool
}

type programOptions struct {
	Source         string                    `yaml:"source"`
	Destinations   []core.DestinationConfig  `yaml:"destinations"`
	Filter         string                    `yaml:"filter"`
	ExcludeCache   bool                      `yaml:"exclude-cache"`
	SkipHidden     bool                      `yaml:"skip-hidden"`
	Organization   string                    `yaml:"organization"`
	EventDBPath    string                    `yaml:"event-db"`
	LogLevel       string                    `yaml:"log-level"`
	JSON           bool                      `yaml:"json"`
	AnonymizePaths bool                      `yaml:"anonymize-paths"`
	ReportFormat   string                    `yaml:"report-format"`
}

func main() {
	var prog *program
	var exitCode int

	defer func() {
		if prog != nil {
			prog.log.Info("program exited", "code", exitCode)
			if prog.events != nil {
				prog.events.Close()
			}
		}
		os.Exit(exitCode)
	}()

	fmt.Fprintf(os.Stdout, "ImageIntact (v%s) - verified multi-destination backups.\n\n", Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	doneChan := make(chan int, 1)

	prog, err := newProgram(os.Args, afero.NewOsFs(), os.Stdout, os.Stderr)
	if prog == nil || err != nil {
		exitCode = exitCodeRefused

		return
	}

	go func() {
		exitCode, _ := prog.run(ctx)
		doneChan <- exitCode
	}()

	select {
	case code := <-doneChan:
		exitCode = code

		return

	case <-sigChan:
		prog.log.Warn("received interrupt signal; cancelling run (waiting up to 10s)...")
		cancel()

		select {
		case code := <-doneChan:
			exitCode = code

			return

		case <-time.After(exitTimeout):
			prog.log.Error("timed out while waiting for program exit; killing...")
			exitCode = exitCodeInternal

			return
		}
	}
}

func newProgram(cliArgs []string, fsys afero.Fs, stdout io.Writer, stderr io.Writer) (*program, error) {
	prog := &program{
		fsys:   fsys,
		stdout: stdout,
		stderr: stderr,
		opts:   &programOptions{},
	}

	if err := prog.parseArgs(cliArgs); err != nil {
		fmt.Fprintf(prog.stderr, "fatal: failed to parse configuration: %v\n\n", err)
		prog.flags.Usage()

		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := prog.validateOpts(); err != nil {
		fmt.Fprintf(prog.stderr, "fatal: failed to validate configuration: %v\n\n", err)
		prog.flags.Usage()

		return nil, fmt.Errorf("failed to validate configuration: %w", err)
	}

	if err := prog.printOpts(); err != nil {
		fmt.Fprintf(prog.stderr, "fatal: failed to print configuration: %v\n\n", err)

		return nil, fmt.Errorf("failed to print configuration: %w", err)
	}

	prog.log = slog.New(prog.logHandler())

	if err := fsys.MkdirAll(dirOf(prog.opts.EventDBPath), 0o777); err != nil {
		return nil, fmt.Errorf("failed preparing event-db directory: %w", err)
	}

	events, err := core.OpenEventLog(prog.opts.EventDBPath, prog.log)
	if err != nil {
		return nil, fmt.Errorf("failed opening event log: %w", err)
	}
	prog.events = events

	return prog, nil
}

func (prog *program) run(ctx context.Context) (retExitCode int, retErr error) {
	defer func() {
		if r := recover(); r != nil {
			prog.log.Error("internal panic recovered", "error", r, "error-type", "fatal")
			debug.PrintStack()
			retExitCode = exitCodeInternal
		}
	}()

	bars := newBarObserver(prog.opts.Destinations)
	defer bars.finish()

	orch := core.NewOrchestrator(prog.fsys, platform.SpaceGuard{}, prog.events, bars.onSnapshot)

	cfg := core.Config{
		Source:           prog.opts.Source,
		Destinations:     prog.opts.Destinations,
		ExcludeCache:     prog.opts.ExcludeCache,
		SkipHidden:       prog.opts.SkipHidden,
		OrganizationName: prog.opts.Organization,
		ToolVersion:      Version,
	}

	filter, err := parseFilter(prog.opts.Filter)
	if err != nil {
		return exitCodeRefused, err
	}
	cfg.Filter = filter

	prog.log.Info("starting backup run",
		"source", prog.opts.Source,
		"destinations", len(prog.opts.Destinations),
	)

	result, err := orch.Run(ctx, cfg)
	if err != nil {
		if ee, ok := core.AsEngineError(err); ok {
			if ee.Kind == core.ErrCancelled {
				prog.log.Warn("run cancelled", "error", ee)

				return exitCodeCancelled, err
			}

			prog.log.Error("pre-flight refused", "error", ee, "error-type", "fatal")

			return exitCodeRefused, err
		}

		prog.log.Error("run failed", "error", err, "error-type", "fatal")

		return exitCodeInternal, err
	}

	if prog.provokeTestPanic {
		panic("testing program panic")
	}

	if err := prog.renderReport(result); err != nil {
		prog.log.Error("failed rendering session report", "error", err)
	}

	return exitCodeFor(result.Status), nil
}

func (prog *program) renderReport(result *core.Result) error {
	events, err := prog.events.EventsForSession(context.Background(), result.Session.ID)
	if err != nil {
		return fmt.Errorf("failed loading session events: %w", err)
	}

	sr := report.SessionReport{Session: result.Session, Events: events}

	if prog.opts.ReportFormat == "json" {
		return report.WriteJSON(prog.stdout, sr, prog.opts.AnonymizePaths)
	}

	return report.WriteHuman(prog.stdout, sr, prog.opts.AnonymizePaths)
}

func exitCodeFor(status core.OverallStatus) int {
	switch status {
	case core.OverallComplete:
		return exitCodeSuccess
	case core.OverallCompleteWithErrors:
		return exitCodeCompleteWithError
	case core.OverallCancelled:
		return exitCodeCancelled
	default:
		return exitCodeInternal
	}
}

// barObserver renders one progressbar.ProgressBar per destination, fed by
// the Orchestrator's onSnap callback (spec §6, grounded on backupbozo's
// progressbar.NewOptions usage).
type barObserver struct {
	bars map[string]*progressbar.ProgressBar
}

func newBarObserver(dests []core.DestinationConfig) *barObserver {
	bars := make(map[string]*progressbar.ProgressBar, len(dests))
	for _, d := range dests {
		bars[d.Name] = progressbar.NewOptions(100,
			progressbar.OptionSetDescription(d.Name),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionSetElapsedTime(true),
			progressbar.OptionClearOnFinish(),
		)
	}

	return &barObserver{bars: bars}
}

func (b *barObserver) onSnapshot(snap core.ProgressSnapshot) {
	for name, st := range snap.Destinations {
		bar, ok := b.bars[name]
		if !ok {
			continue
		}

		pct := 0
		if st.Total > 0 {
			pct = (st.Copied + st.Verified) * 100 / (2 * st.Total)
		}
		_ = bar.Set(pct)
	}
}

func (b *barObserver) finish() {
	for _, bar := range b.bars {
		_ = bar.Finish()
	}
}
