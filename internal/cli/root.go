package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/SvelteTick/Impostr/internal/factory"
)

// state is shared by the commands of one invocation. It is built before
// the subcommand runs and released by Run.
type state struct {
	cfg     *Config
	cfgErr  error
	logger  *slog.Logger
	app     *factory.App
	out     *Output
	metrics *http.Server
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *state) {
	st := &state{}
	st.cfg, st.cfgErr = LoadConfig()
	if st.cfgErr != nil {
		st.cfg = &Config{}
	}
	cfg := st.cfg

	rootCmd := &cobra.Command{
		Use:   "impostr",
		Short: "Command line client for Impostr",
		Long: `impostr signs in to the Impostr backend, creates and joins game sessions,
and follows a lobby in real time until the game starts and roles are dealt.

Credentials are kept in a local store and refreshed automatically.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if st.cfgErr != nil {
				return st.cfgErr
			}
			return st.open(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Server URL (env: IMPOSTR_SERVER)")
	rootCmd.PersistentFlags().StringVar(&cfg.SocketURL, "socket", cfg.SocketURL, "Event channel URL, derived from --server when empty (env: IMPOSTR_SOCKET)")
	rootCmd.PersistentFlags().StringVar(&cfg.Store, "store", cfg.Store, "Credential store: memory, file, redis, sqlite (env: IMPOSTR_STORE)")
	rootCmd.PersistentFlags().StringVar(&cfg.StorePath, "store-path", cfg.StorePath, "Credential file or database path (env: IMPOSTR_STORE_PATH)")
	rootCmd.PersistentFlags().StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis URL for the redis store (env: IMPOSTR_REDIS_URL)")
	rootCmd.PersistentFlags().StringVarP(&cfg.Output, "output", "o", cfg.Output, "Output format: text, json (env: IMPOSTR_OUTPUT)")
	rootCmd.PersistentFlags().StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on this address (env: IMPOSTR_METRICS_ADDR)")
	rootCmd.PersistentFlags().StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text, json (env: IMPOSTR_LOG_FORMAT)")
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose output")

	// Add subcommands
	rootCmd.AddCommand(newAuthCmd(st))
	rootCmd.AddCommand(newGameCmd(st))
	rootCmd.AddCommand(newLobbyCmd(st))

	return rootCmd, st
}

// open wires the application for the command about to run
func (st *state) open(cmd *cobra.Command) error {
	st.out = NewOutput(st.cfg.Output, cmd.OutOrStdout(), cmd.ErrOrStderr())
	st.logger = newLogger(cmd.ErrOrStderr(), st.cfg.LogFormat, st.cfg.Verbose)

	fc, err := st.cfg.Factory()
	if err != nil {
		return err
	}
	fc.Logger = st.logger

	app, err := factory.New(fc)
	if err != nil {
		return err
	}
	st.app = app

	if st.cfg.MetricsAddr != "" {
		return st.serveMetrics()
	}
	return nil
}

func (st *state) serveMetrics() error {
	ln, err := net.Listen("tcp", st.cfg.MetricsAddr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	st.metrics = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := st.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			st.logger.Warn("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
	st.logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))
	return nil
}

// close releases everything open acquired
func (st *state) close() {
	if st.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = st.metrics.Shutdown(ctx)
		cancel()
	}
	if st.app != nil {
		if err := st.app.Close(); err != nil {
			st.logger.Warn("failed to close credential store", slog.String("error", err.Error()))
		}
	}
}

func newLogger(w io.Writer, format string, verbose bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Run executes the CLI with the given arguments and streams. Errors are
// printed in the configured output format before being returned.
func Run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	cmd, st := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	defer st.close()

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		if st.out == nil {
			st.out = NewOutput(st.cfg.Output, out, errOut)
		}
		st.out.PrintError(err)
	}
	return err
}

// Execute runs the root command
func Execute() {
	if err := Run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}
