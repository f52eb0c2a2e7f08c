// Package main provides the allocscope binary: a live CPU and allocation
// monitor for one managed-runtime process.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srodi/allocscope/pkg/collector/cpu"
	"github.com/srodi/allocscope/pkg/collector/memory"
	"github.com/srodi/allocscope/pkg/config"
	"github.com/srodi/allocscope/pkg/logging"
	"github.com/srodi/allocscope/pkg/procinfo"
	"github.com/srodi/allocscope/pkg/session"
	"github.com/srodi/allocscope/pkg/ui"
)

// errReported marks a failure already explained on the console.
var errReported = errors.New("reported")

type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

type options struct {
	configPath string
	interval   time.Duration
	topK       int
	logLevel   string

	stdout io.Writer
	stderr io.Writer
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command and maps the outcome to an exit code.
func run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	if err == nil {
		return 0
	}

	var uerr usageError
	switch {
	case errors.As(err, &uerr):
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		_, _ = fmt.Fprint(stderr, cmd.UsageString())
	case errors.Is(err, errReported):
	default:
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return 1
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{stdout: stdout, stderr: stderr}

	cmd := &cobra.Command{
		Use:   "allocscope <pid>",
		Short: "Live CPU and allocation monitor for a running .NET process",
		Long: `allocscope attaches to a running .NET process and prints its CPU usage
every few seconds together with a periodic report of the types it allocates
most, its working set and its private memory. Press Ctrl+C to stop.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if _, err := parsePID(args); err != nil {
				return usageError{err}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args)
			if err != nil {
				return usageError{err}
			}
			return opts.monitor(cmd, pid)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	flags.DurationVar(&opts.interval, "interval", 0, "memory report interval (default 3s)")
	flags.IntVar(&opts.topK, "top", 0, "number of allocating types per report (default 5)")
	flags.StringVar(&opts.logLevel, "log-level", "", "diagnostic log level (trace, debug, info, warn, error)")
	return cmd
}

// parsePID accepts exactly one positive integer argument.
func parsePID(args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected exactly one process id, got %d arguments", len(args))
	}
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid process id %q", args[0])
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid process id %d", pid)
	}
	return pid, nil
}

// loadConfig reads the optional file, then applies flags the user set.
func (o *options) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("interval") {
		cfg.Interval = o.interval
	}
	if flags.Changed("top") {
		cfg.TopK = o.topK
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	return cfg, cfg.Validate()
}

func (o *options) monitor(cmd *cobra.Command, pid int) error {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Pretty = cfg.Log.Pretty
	logCfg.Output = o.stderr
	logger := logging.New(logCfg)
	cliLogger := logging.NewWithComponent(logCfg, "cli")
	console := ui.NewConsole(o.stdout)
	console.PrintBanner()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	restore := suppressInputEcho(cliLogger)
	defer restore()

	source := memory.NewCollector(cfg.Events, logger)
	sess := session.New(session.Options{
		PID:       pid,
		Interval:  cfg.Interval,
		TopK:      cfg.TopK,
		Source:    source,
		Inspector: procinfo.NewInspector(),
		Sampler:   cpu.NewSampler(cpu.NewProcessProbe(pid), cfg.CPU.Settle, cfg.CPU.Period, console, logger),
		Console:   console,
		Logger:    logger,
	})

	cliLogger.Debug().
		Int("pid", pid).
		Dur("interval", cfg.Interval).
		Int("top_k", cfg.TopK).
		Str("object", cfg.Events.Object).
		Msg("Starting session")

	if err := sess.Run(ctx); err != nil {
		if errors.Is(err, session.ErrProcessNotFound) {
			console.Printf("Process with ID %d not found.", pid)
			return errReported
		}
		return err
	}
	return nil
}
