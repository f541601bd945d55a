// Command obvengine runs the user data relay and offers tools around the
// protocol engine: identity generation, server query processing and the
// attachment pipeline.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ZentaChain/obvengine/pkg/config"
	"github.com/ZentaChain/obvengine/pkg/logging"
	"github.com/ZentaChain/obvengine/pkg/relay"
)

// rootFlags holds the flags shared by every subcommand
type rootFlags struct {
	ConfigFile string
	LogLevel   string
}

// env is what every subcommand starts from
type env struct {
	cfg    *config.Config
	logger *logrus.Logger
}

func (f *rootFlags) load() (*env, error) {
	cfg := config.DefaultConfig()
	if f.ConfigFile != "" {
		var err error
		if cfg, err = config.LoadFile(f.ConfigFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if f.LogLevel != "" {
		cfg.Engine.LogLevel = f.LogLevel
	}

	logger, err := logging.New(cfg.Engine.LogLevel)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger}, nil
}

func newRootCommand() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "obvengine",
		Short: "Protocol engine tools and user data relay",
		Long: `obvengine bundles the user data relay used by the photo download protocol
with maintenance tools for the engine database and the attachment pipeline.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.ConfigFile, "config", "f", "",
		"path to the configuration file (TOML format)")
	cmd.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "",
		"override the configured log level")

	cmd.AddCommand(
		newRelayCommand(&flags),
		newGenIdentityCommand(&flags),
		newRunQueriesCommand(&flags),
		newEncryptFileCommand(&flags),
		newDecryptFileCommand(&flags),
		newChunkSizesCommand(&flags),
	)
	return cmd
}

func newRelayCommand(flags *rootFlags) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the user data relay",
		Example: `  # Serve with the defaults
  obvengine relay

  # Serve on another port with a config file
  obvengine relay -f /etc/obvengine.toml --port 9443`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := flags.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				e.cfg.Relay.Port = port
			}
			return runRelay(signalContext(), e)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on")
	return cmd
}

func runRelay(ctx context.Context, e *env) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	relayConfig := relay.DefaultConfig()
	relayConfig.Port = e.cfg.Relay.Port
	relayConfig.DatabasePath = e.cfg.Relay.DatabasePath
	relayConfig.RateLimit = e.cfg.Relay.RateLimit
	relayConfig.MaxBodyBytes = e.cfg.Relay.MaxBodyBytes
	relayConfig.UserDataTTL = e.cfg.Relay.UserDataTTL.Duration
	relayConfig.Logger = e.logger
	relayConfig.Registerer = reg

	server, err := relay.NewServer(ctx, relayConfig)
	if err != nil {
		return err
	}
	defer server.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return expireLoop(gctx, server, e.logger) })
	if e.cfg.Metrics.Address != "" {
		g.Go(func() error { return serveMetrics(gctx, e.cfg.Metrics.Address, reg, e.logger) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// expireLoop drops stale user data every hour until ctx is done
func expireLoop(ctx context.Context, server *relay.Server, logger *logrus.Logger) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		if _, err := server.ExpireUserData(ctx); err != nil {
			logger.WithError(err).Warn("Failed to expire user data")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *logrus.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("address", addr).Info("Metrics server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func signalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
