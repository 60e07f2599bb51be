package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fitness-team/fitload/internal/loadtest/config"
	"github.com/fitness-team/fitload/internal/log"
)

var version = "0.1.0"

// loggerFactory builds the process logger once the command knows its
// configuration.
type loggerFactory func(fallback config.LogSettings) (*zap.Logger, error)

// ExitError carries a process exit code up to main.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	return 1
}

// NewRootCommand builds the fitload command tree.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	logOpts := log.NewOptions()

	root := &cobra.Command{
		Use:   "fitload",
		Short: "Load generator for the fitness backend",
		Long: `fitload drives virtual users through the fitness backend's login and
library endpoints, following a staged load profile, and reports latency,
check pass rates and threshold results.

  fitload run                       # the standard 2m/1m/1m profile
  fitload run --preset smoke        # a short, gentle profile
  fitload run -c test.yaml -o result.json
  fitload stub --addr :8080         # an in-process backend to aim at`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	logOpts.AddFlags(root.PersistentFlags())

	// file settings apply only where the flag was left alone
	var newLogger loggerFactory = func(fallback config.LogSettings) (*zap.Logger, error) {
		flags := root.PersistentFlags()
		if fallback.Level != "" && !flags.Changed("log.level") {
			logOpts.Level = fallback.Level
		}
		if fallback.Format != "" && !flags.Changed("log.format") {
			logOpts.Format = fallback.Format
		}
		return log.New(logOpts)
	}

	root.AddCommand(newRunCommand(newLogger))
	root.AddCommand(newStubCommand(newLogger))
	root.AddCommand(newVersionCommand())
	return root
}

// Execute runs the root command with the process arguments and prints the
// error, if any, to stderr.
func Execute() error {
	err := NewRootCommand(os.Stdout, os.Stderr).Execute()
	if err != nil {
		var exit *ExitError
		if !errors.As(err, &exit) || exit.Err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	return err
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fitload %s\n", version)
		},
	}
}
