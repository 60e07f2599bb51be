package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fitness-team/fitload/internal/loadtest/config"
	"github.com/fitness-team/fitload/internal/stub"
)

type stubOptions struct {
	addr       string
	loginRate  float64
	loginBurst int
	latency    time.Duration
}

func newStubCommand(newLogger loggerFactory) *cobra.Command {
	opts := &stubOptions{}

	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Serve an in-process stand-in for the fitness backend",
		Long: `Stub serves POST /api/auth and GET /api/library with the backend's
envelope, per-IP login rate limit and bearer-token auth, so a run can be
rehearsed without the real service.

  fitload stub --addr :8080 --login-rate 5 --login-burst 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(config.LogSettings{})
			if err != nil {
				return &ExitError{Code: 1, Err: fmt.Errorf("invalid log options: %w", err)}
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", opts.addr)
			if err != nil {
				return &ExitError{Code: 1, Err: fmt.Errorf("failed to listen on %s: %w", opts.addr, err)}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stub backend listening on http://%s\n", ln.Addr())
			return opts.serve(ctx, ln, logger)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&opts.addr, "addr", ":8080", "Listen address")
	fs.Float64Var(&opts.loginRate, "login-rate", float64(stub.DefaultLoginRate), "Logins per second allowed per client IP (0 = unlimited)")
	fs.IntVar(&opts.loginBurst, "login-burst", stub.DefaultLoginBurst, "Login burst allowed per client IP")
	fs.DurationVar(&opts.latency, "latency", 0, "Artificial delay added to every response")
	return cmd
}

// serve runs the stub on ln until ctx is done.
func (o *stubOptions) serve(ctx context.Context, ln net.Listener, logger *zap.Logger) error {
	handler := stub.New(
		stub.WithLoginLimit(rate.Limit(o.loginRate), o.loginBurst),
		stub.WithLatency(o.latency),
		stub.WithLogger(logger.Named("stub")),
	)
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info("stub started", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return &ExitError{Code: 1, Err: err}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return &ExitError{Code: 1, Err: fmt.Errorf("shutdown: %w", err)}
	}
	st := handler.Stats()
	logger.Info("stub stopped",
		zap.Int64("logins", st.Logins),
		zap.Int64("rateLimited", st.RateLimited),
		zap.Int64("libraries", st.Libraries),
		zap.Int("users", st.Users))
	return nil
}
