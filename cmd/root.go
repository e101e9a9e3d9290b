// Package cmd implements the prepfetch command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/NamanBalaji/prepfetch/internal/config"
	"github.com/NamanBalaji/prepfetch/internal/engine"
	"github.com/NamanBalaji/prepfetch/internal/errors"
	"github.com/NamanBalaji/prepfetch/internal/logger"
)

var Version = "dev"

// exitError carries the process exit code of a finished command. err is
// printed unless the command already reported it.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}

	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

type app struct {
	stdout io.Writer
	stderr io.Writer
	cfg    *config.Config

	baseDir     string
	chunkSize   int64
	connections int
	workers     int
	retries     int
	timeout     time.Duration
	debug       bool
	logFile     string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "prepfetch",
		Short:         "Resumable chunked downloads of offline reference content",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.baseDir, "base-dir", "", "Directory downloads are placed in (default $"+config.EnvBaseDir+" or the XDG data dir)")
	flags.Int64Var(&a.chunkSize, "chunk-size", 0, "Bytes per ranged request (default 4 MiB)")
	flags.IntVarP(&a.connections, "connections", "c", 0, "Concurrent chunk requests per file (default 4)")
	flags.IntVarP(&a.workers, "workers", "w", 0, "Files downloaded in parallel (default 2)")
	flags.IntVar(&a.retries, "retries", 0, "Attempts per request before failing (default 3)")
	flags.DurationVarP(&a.timeout, "timeout", "t", 0, "Per file timeout, 0 disables it (eg. 30m, 2h)")
	flags.BoolVar(&a.debug, "debug", false, "Enable debug logging")
	flags.StringVar(&a.logFile, "log-file", "", "Also write JSON logs to this file")

	root.AddCommand(
		newGetCmd(a),
		newManifestCmd(a),
		newStatusCmd(a),
		newCleanCmd(a),
	)

	return root
}

// setup loads the configuration file and environment, then applies the flags
// the user set explicitly.
func (a *app) setup(cmd *cobra.Command) error {
	if err := logger.InitLogging(a.debug, a.logFile); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()

	if flags.Changed("base-dir") {
		cfg.BaseDir = a.baseDir
	}

	if flags.Changed("chunk-size") {
		cfg.Http.ChunkSize = a.chunkSize
	}

	if flags.Changed("connections") {
		cfg.Http.Connections = a.connections
	}

	if flags.Changed("workers") {
		cfg.MaxConcurrency = a.workers
	}

	if flags.Changed("retries") {
		cfg.Http.MaxRetries = a.retries
	}

	if flags.Changed("timeout") {
		cfg.Timeout = a.timeout
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Debugf("Using base directory %s", cfg.BaseDir)

	a.cfg = cfg

	return nil
}

func (a *app) engine(continueOnError, sequential bool) *engine.Engine {
	return engine.New(&engine.Config{
		BaseDir:         a.cfg.BaseDir,
		MaxConcurrency:  a.cfg.MaxConcurrency,
		Connections:     a.cfg.Http.Connections,
		ChunkSize:       a.cfg.Http.ChunkSize,
		MaxRetries:      a.cfg.Http.MaxRetries,
		RetryDelay:      a.cfg.Http.RetryDelay,
		ChunkTimeout:    a.cfg.Http.ChunkTimeout,
		ArtifactTimeout: a.cfg.Timeout,
		StatusInterval:  a.cfg.StatusInterval,
		ContinueOnError: continueOnError || a.cfg.ContinueOnError,
		Sequential:      sequential || a.cfg.Sequential,
		Headers:         a.cfg.Http.Headers,
	})
}

// finish prints the outcome and converts it to the command's exit status.
func (a *app) finish(outcome *engine.Outcome) error {
	fmt.Fprintln(a.stdout, renderOutcome(outcome))

	if code := outcome.ExitCode(); code != engine.ExitOK {
		return &exitError{code: code}
	}

	return nil
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	defer logger.Close()

	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return engine.ExitOK
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			fmt.Fprintln(stderr, errorStyle.Render(exitErr.err.Error()))
		}

		return exitErr.code
	}

	fmt.Fprintln(stderr, errorStyle.Render(err.Error()))

	if errors.IsCancelled(err) {
		return engine.ExitCancelled
	}

	return engine.ExitFailure
}
