package main

import (
	"flag"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/yaml.v3"
)

func (prog *program) parseArgs(cliArgs []string) error {
	var (
		yamlFile string
		yamlOpts programOptions
		dests    destArg
	)

	prog.flags = flag.NewFlagSet("imageintact", flag.ExitOnError)
	prog.flags.SetOutput(prog.stderr)
	prog.flags.Usage = func() {
		fmt.Fprintf(prog.stderr, "usage: %q --source=ABSPATH --dest=ABSPATH [--dest=ABSPATH ...]\n", cliArgs[0])
		fmt.Fprintf(prog.stderr, "\t[--filter=all|photos|raw|videos] [--exclude-cache] [--skip-hidden]\n")
		fmt.Fprintf(prog.stderr, "\t[--organization=NAME] [--log-level=debug|info|warn|error] [--json]\n\n")
		prog.flags.PrintDefaults()
	}

	prog.flags.StringVar(&yamlFile, "config", "", "path to a yaml configuration file; CLI flags override it")
	prog.flags.StringVar(&prog.opts.Source, "source", "", "absolute path to the source tree to back up")
	prog.flags.Var(&dests, "dest", "absolute path to a backup destination (1-4); repeat for more, suffix \",network\" to mark network-mounted")
	prog.flags.StringVar(&prog.opts.Filter, "filter", "all", "file type filter: all, photos, raw, videos")
	prog.flags.BoolVar(&prog.opts.ExcludeCache, "exclude-cache", true, "skip known preview/cache directories (.cache, *.lrdata, *.cosessiondb)")
	prog.flags.BoolVar(&prog.opts.SkipHidden, "skip-hidden", true, "skip dotfiles and dot-directories")
	prog.flags.StringVar(&prog.opts.Organization, "organization", "", "subdirectory name joined under each destination root")
	prog.flags.StringVar(&prog.opts.EventDBPath, "event-db", "", "path to the session event-store database; defaults under the user config directory")
	prog.flags.StringVar(&prog.opts.LogLevel, "log-level", "info", "verbosity of emitted logs: debug, info, warn, error")
	prog.flags.BoolVar(&prog.opts.JSON, "json", false, "emit logs as JSON on stderr")
	prog.flags.BoolVar(&prog.opts.AnonymizePaths, "anonymize-paths", false, "redact user/volume path segments in the session report")
	prog.flags.StringVar(&prog.opts.ReportFormat, "report-format", "text", "final session report format: text or json")

	if err := prog.flags.Parse(cliArgs[1:]); err != nil {
		return fmt.Errorf("failed parsing flags: %w", err)
	}

	if len(dests) > 0 {
		prog.opts.Destinations = dests
	}

	setFlags := setFlagNames(prog.flags)

	// Start from the flag defaults so that a value neither passed on the
	// command line nor present in the yaml file keeps its flag default.
	yamlOpts = *prog.opts

	if yamlFile != "" {
		f, err := prog.fsys.Open(yamlFile)
		if err != nil {
			return fmt.Errorf("%w: %w", errArgConfigMissing, err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)

		if err := dec.Decode(&yamlOpts); err != nil {
			return fmt.Errorf("%w: %w", errArgConfigMalformed, err)
		}
	}

	if !setFlags["source"] {
		prog.opts.Source = yamlOpts.Source
	}
	if !setFlags["dest"] {
		prog.opts.Destinations = yamlOpts.Destinations
	}
	if !setFlags["filter"] {
		prog.opts.Filter = yamlOpts.Filter
	}
	if !setFlags["exclude-cache"] {
		prog.opts.ExcludeCache = yamlOpts.ExcludeCache
	}
	if !setFlags["skip-hidden"] {
		prog.opts.SkipHidden = yamlOpts.SkipHidden
	}
	if !setFlags["organization"] {
		prog.opts.Organization = yamlOpts.Organization
	}
	if !setFlags["event-db"] {
		prog.opts.EventDBPath = yamlOpts.EventDBPath
	}
	if !setFlags["log-level"] {
		prog.opts.LogLevel = yamlOpts.LogLevel
	}
	if !setFlags["json"] {
		prog.opts.JSON = yamlOpts.JSON
	}
	if !setFlags["anonymize-paths"] {
		prog.opts.AnonymizePaths = yamlOpts.AnonymizePaths
	}
	if !setFlags["report-format"] {
		prog.opts.ReportFormat = yamlOpts.ReportFormat
	}

	return nil
}

func (prog *program) validateOpts() error {
	if prog.opts.Source == "" {
		return errArgMissingSource
	}

	prog.opts.Source = filepath.Clean(strings.TrimSpace(prog.opts.Source))
	if !filepath.IsAbs(prog.opts.Source) {
		return errArgSourceNotAbs
	}

	if len(prog.opts.Destinations) == 0 || len(prog.opts.Destinations) > 4 {
		return errArgDestCount
	}

	for i, d := range prog.opts.Destinations {
		d.Root = filepath.Clean(strings.TrimSpace(d.Root))
		if !filepath.IsAbs(d.Root) {
			return fmt.Errorf("%w: %q", errArgDestNotAbs, d.Root)
		}
		if d.Root == prog.opts.Source {
			return fmt.Errorf("%w: %q", errArgDestIsSource, d.Root)
		}
		prog.opts.Destinations[i] = d
	}

	if _, err := parseFilter(prog.opts.Filter); err != nil {
		return err
	}

	if prog.opts.ReportFormat != "text" && prog.opts.ReportFormat != "json" {
		return fmt.Errorf("%w: %q", errArgInvalidReportFormat, prog.opts.ReportFormat)
	}

	if prog.opts.LogLevel != "" {
		if _, err := parseLogLevel(prog.opts.LogLevel); err != nil {
			return fmt.Errorf("%w: %q", err, prog.opts.LogLevel)
		}
	} else {
		prog.opts.LogLevel = strings.ToLower(defaultLogLevel.String())
	}

	if prog.opts.EventDBPath == "" {
		dir, err := prog.userConfigDir()
		if err != nil {
			return fmt.Errorf("failed resolving default event-db location: %w", err)
		}
		prog.opts.EventDBPath = filepath.Join(dir, "imageintact", "events.db")
	}

	return nil
}

func (prog *program) printOpts() error {
	out, err := yaml.Marshal(prog.opts)
	if err != nil {
		return fmt.Errorf("failed printing configuration: %w", err)
	}

	fmt.Fprintf(prog.stdout, "configuration:\n")

	lines := strings.SplitSeq(string(out), "\n")
	for line := range lines {
		if line != "" {
			fmt.Fprintf(prog.stdout, "\t%s\n", line)
		}
	}

	fmt.Fprintln(prog.stdout)

	return nil
}

func (prog *program) logHandler() slog.Handler {
	var logHandler slog.Handler

	logLevel, _ := parseLogLevel(prog.opts.LogLevel)

	if prog.opts.JSON {
		logHandler = slog.NewJSONHandler(prog.stderr, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		logHandler = tint.NewHandler(prog.stderr,
			&tint.Options{
				Level:      logLevel,
				TimeFormat: time.TimeOnly,
			})
	}

	return logHandler
}
