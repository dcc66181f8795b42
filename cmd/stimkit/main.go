// Command stimkit prepares psychophysics stimuli from ImageNet: it shuffles
// class name lists, generates experiment definitions, materializes the
// referenced images and extracts the images a subject got wrong.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stimkit/internal/config"
	"stimkit/internal/logging"
	"stimkit/internal/metrics"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

// cli runs one command and returns the process exit code: 0 on success, 2 for
// usage errors and 1 for everything else.
func cli(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return execute(ctx, args, stdout, stderr)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if ferr := a.finish(); err == nil {
		err = ferr
	}
	if err == nil {
		return 0
	}
	if _, werr := fmt.Fprintf(stderr, "stimkit: %v\n", err); werr != nil {
		return 1
	}
	var uerr usageError
	if errors.As(err, &uerr) || strings.HasPrefix(err.Error(), "unknown command") {
		return 2
	}
	return 1
}

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// app carries the state shared by every subcommand.
type app struct {
	stdout, stderr io.Writer

	settings    string
	dotenv      string
	verbose     bool
	metricsFile string

	cfg     config.Config
	log     *zap.Logger
	metrics *metrics.Recorder
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "stimkit",
		Short:         "Prepare ImageNet stimuli for psychophysics experiments",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })
	pf := root.PersistentFlags()
	pf.StringVar(&a.settings, "settings", "", "YAML settings file")
	pf.StringVar(&a.dotenv, "dotenv", ".env", "dotenv file with STIMKIT_* variables (ignored if missing)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	pf.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile when done")

	root.AddCommand(
		a.shuffleCommand(),
		a.generateCommand(),
		a.materializeCommand(),
		a.failuresCommand(),
		a.ledgerCommand(),
		a.bankCommand(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(config.Sources{File: a.settings, Dotenv: a.dotenv})
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("metrics-file") {
		cfg.Metrics.Textfile = a.metricsFile
	}
	a.cfg = cfg
	a.log = logging.New(a.verbose, a.stderr)
	a.metrics = metrics.NewRecorder()
	return nil
}

// finish flushes the logger and writes the metrics textfile, if configured.
func (a *app) finish() error {
	if a.log != nil {
		_ = a.log.Sync()
	}
	if a.metrics == nil {
		return nil
	}
	return a.metrics.WriteTextfile(a.cfg.Metrics.Textfile)
}

// observe records the outcome of an operation started at start.
func (a *app) observe(ctx context.Context, op string, start time.Time, err error) {
	a.metrics.Observe(ctx, op, err == nil, time.Since(start))
}

// requireFlags reports unset required flags as a usage error.
func requireFlags(cmd *cobra.Command, names ...string) error {
	var missing []string
	for _, n := range names {
		if !cmd.Flags().Changed(n) {
			missing = append(missing, "--"+n)
		}
	}
	if len(missing) > 0 {
		return usageError{fmt.Errorf("%s: required flag(s) %s not set", cmd.Name(), strings.Join(missing, ", "))}
	}
	return nil
}
