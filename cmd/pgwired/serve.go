package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gfx.cafe/gfx/pgwired/auth"
	"gfx.cafe/gfx/pgwired/config"
	"gfx.cafe/gfx/pgwired/dispatch"
	"gfx.cafe/gfx/pgwired/internal/obslog"
	"gfx.cafe/gfx/pgwired/pgmetrics"
	"gfx.cafe/gfx/pgwired/reactor"
	"gfx.cafe/gfx/pgwired/session"
)

func serveCmd() *cobra.Command {
	cfg := config.Default()
	var password string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the pgwired server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, cfg, password)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Host, "host", cfg.Host, "address to bind")
	flags.IntVar(&cfg.Port, "port", cfg.Port, "port to bind")
	flags.IntVar(&cfg.MaxConnections, "max-conn", cfg.MaxConnections, "maximum concurrent connections, 0 for unlimited")
	flags.IntVar(&cfg.MaxFrameSize, "max-frame-size", cfg.MaxFrameSize, "maximum protocol message size in bytes")
	flags.DurationVar(&cfg.StartupTimeout, "startup-timeout", cfg.StartupTimeout, "time allowed for startup and authentication")
	flags.BoolVar(&cfg.TLSEnabled, "ssl", cfg.TLSEnabled, "accept SSLRequest and negotiate TLS")
	flags.StringVar(&cfg.TLSCertFile, "ssl-cert", cfg.TLSCertFile, "PEM certificate file (required with --ssl)")
	flags.StringVar(&cfg.TLSKeyFile, "ssl-key", cfg.TLSKeyFile, "PEM private key file (required with --ssl)")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve Prometheus metrics on, empty to disable")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable debug-level logging")
	flags.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "write logs here instead of stderr")
	flags.StringVar(&password, "password", "", "require this cleartext password from every client; unset means trust-all")

	return cmd
}

func runServe(cmd *cobra.Command, cfg config.Config, password string) error {
	logger, err := obslog.New(cfg.Verbose, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	tlsConfig, err := loadTLS(cfg)
	if err != nil {
		return fmt.Errorf("load TLS config: %w", err)
	}

	table := dispatch.NewTable()
	if password != "" {
		auth.Register(table, auth.StaticPassword(password))
	} else {
		auth.Register(table, auth.Trust{})
	}
	if tlsConfig != nil {
		table.RegisterSSLRequest(func(context.Context, *session.Session) bool { return true })
	}

	reg := prometheus.NewRegistry()
	metrics := pgmetrics.NewRegistry(reg)

	srv := reactor.New(cfg, table, logger)
	srv.Metrics = metrics
	srv.TLS = tlsConfig

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	if err := srv.Listen(addr); err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	logger.Info("listening", zap.String("addr", addr), zap.Bool("ssl", cfg.TLSEnabled))

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		logger.Info("serving metrics", zap.String("addr", cfg.MetricsAddr))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return srv.Close()
}

func loadTLS(cfg config.Config) (*tls.Config, error) {
	if !cfg.TLSEnabled {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}
