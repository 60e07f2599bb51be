package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fitness-team/fitload/internal/loadtest/config"
	"github.com/fitness-team/fitload/internal/loadtest/engine"
	"github.com/fitness-team/fitload/internal/loadtest/metrics"
	"github.com/fitness-team/fitload/internal/loadtest/output"
	"github.com/fitness-team/fitload/internal/loadtest/scenario"
)

const (
	defaultPreset = "load"

	// BaseURLEnv overrides the config file's base URL.
	BaseURLEnv = "BASE_URL"
	envPrefix  = "FITLOAD"
)

// errThresholds is returned when the run completed but a threshold failed.
var errThresholds = errors.New("one or more thresholds failed")

type runOptions struct {
	configFile  string
	preset      string
	outFile     string
	metricsAddr string
	quiet       bool
	noColor     bool
	interval    time.Duration
}

func newRunCommand(newLogger loggerFactory) *cobra.Command {
	opts := &runOptions{}
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the login and browse scenario under a staged load profile",
		Long: `Run ramps virtual users up and down following the configured stages. Each
VU logs in by phone and, on success, fetches the exercise library.

The base URL is resolved in this order: --base-url, $BASE_URL, the config
file, http://localhost:8080. Other overrides may also come from FITLOAD_*
environment variables (FITLOAD_MAX_RPS, FITLOAD_SPOOF_IP).

The exit code is 1 when the configuration is invalid, a threshold fails or
the run is interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(v)
			if err != nil {
				return &ExitError{Code: 1, Err: err}
			}

			logger, err := newLogger(cfg.Log)
			if err != nil {
				return &ExitError{Code: 1, Err: fmt.Errorf("invalid log options: %w", err)}
			}
			defer func() { _ = logger.Sync() }()

			return opts.run(cmd, cfg, logger)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&opts.configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	fs.StringVar(&opts.preset, "preset", "", fmt.Sprintf("Built-in profile when no config file is given: %s (default %q)", strings.Join(config.PresetNames(), ", "), defaultPreset))
	fs.StringVarP(&opts.outFile, "out", "o", "", "Write the JSON result to this file")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run (e.g. :9091)")
	fs.BoolVarP(&opts.quiet, "quiet", "q", false, "Disable live progress, print only PASSED or FAILED")
	fs.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	fs.DurationVar(&opts.interval, "interval", time.Second, "Live progress refresh interval")
	addOverrideFlags(fs)

	bindFlags(v, fs)
	return cmd
}

// addOverrideFlags declares the flags that override config file values.
func addOverrideFlags(fs *pflag.FlagSet) {
	fs.String("base-url", "", "Backend base URL")
	fs.Float64("max-rps", 0, "Cap the total request rate (0 = unlimited)")
	fs.Bool("spoof-ip", false, "Send a random X-Forwarded-For on login")
	fs.String("graceful-stop", "", "How long in-flight iterations may run after the profile ends")
}

// bindFlags wires the override flags and their environment variables into v.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, name := range []string{"base-url", "max-rps", "spoof-ip", "graceful-stop"} {
		_ = v.BindPFlag(name, fs.Lookup(name))
	}
	_ = v.BindEnv("base-url", BaseURLEnv)
}

// loadConfig reads the file or preset and applies flag and env overrides.
func (o *runOptions) loadConfig(v *viper.Viper) (*config.TestConfig, error) {
	var (
		cfg *config.TestConfig
		err error
	)
	switch {
	case o.configFile != "" && o.preset != "":
		return nil, errors.New("--config and --preset are mutually exclusive")
	case o.configFile != "":
		cfg, err = config.LoadConfig(o.configFile)
	case o.preset != "":
		cfg, err = config.Preset(o.preset)
	default:
		cfg, err = config.Preset(defaultPreset)
	}
	if err != nil {
		return nil, err
	}

	// the file value sits below env and flag, above the built-in default
	if cfg.BaseURL != "" {
		v.SetDefault("base-url", cfg.BaseURL)
	} else {
		v.SetDefault("base-url", scenario.DefaultBaseURL)
	}
	cfg.BaseURL = v.GetString("base-url")

	if v.IsSet("max-rps") {
		cfg.MaxRPS = v.GetFloat64("max-rps")
	}
	if v.IsSet("spoof-ip") {
		cfg.Scenario.SpoofSourceIP = v.GetBool("spoof-ip")
	}
	if s := v.GetString("graceful-stop"); s != "" {
		cfg.GracefulStop = s
	}
	return cfg, nil
}

func (o *runOptions) run(cmd *cobra.Command, cfg *config.TestConfig, logger *zap.Logger) error {
	stdout := cmd.OutOrStdout()
	stderr := cmd.ErrOrStderr()

	eng, err := engine.New(cfg, engine.WithLogger(logger))
	if err != nil {
		var verrs *config.ValidationErrors
		if errors.As(err, &verrs) {
			fmt.Fprintln(stderr, "Configuration validation errors:")
			for _, e := range verrs.Errors {
				fmt.Fprintf(stderr, "  - %s\n", e.Error())
			}
			return &ExitError{Code: 1}
		}
		return &ExitError{Code: 1, Err: err}
	}
	defer eng.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if o.metricsAddr != "" {
		shutdown, err := serveMetrics(o.metricsAddr, eng, logger)
		if err != nil {
			return &ExitError{Code: 1, Err: err}
		}
		defer shutdown()
	}

	console := output.NewConsoleOutput(output.ConsoleOutputConfig{
		TestName:      cfg.Name,
		BaseURL:       cfg.BaseURL,
		TotalDuration: eng.Profile().TotalDuration(),
		Writer:        stdout,
		Quiet:         o.quiet,
		NoColor:       o.noColor,
	})
	console.PrintHeader(eng.RunID())

	interval := o.interval
	if interval <= 0 {
		interval = time.Second
	}
	watchCtx, stopWatch := context.WithCancel(ctx)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		console.Watch(watchCtx, eng, interval)
	}()

	result, runErr := eng.Run(ctx)
	stopWatch()
	<-watchDone

	console.PrintSummary(result)

	if o.outFile != "" && result != nil {
		if err := writeResult(o.outFile, result); err != nil {
			return &ExitError{Code: 1, Err: err}
		}
		if !o.quiet {
			fmt.Fprintf(stdout, "Results written to: %s\n", o.outFile)
		}
	}

	switch {
	case runErr != nil:
		return &ExitError{Code: 1, Err: fmt.Errorf("run interrupted: %w", runErr)}
	case !result.Passed:
		return &ExitError{Code: 1, Err: errThresholds}
	}
	return nil
}

// serveMetrics exposes the live metrics until the returned func is called.
func serveMetrics(addr string, eng *engine.Engine, logger *zap.Logger) (func(), error) {
	exporter := metrics.NewExporter(eng.MetricsEngine(), prometheus.Labels{
		"run":  eng.RunID(),
		"test": eng.Config().Name,
	})
	handler, err := exporter.Handler()
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func writeResult(path string, result *engine.TestResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}
