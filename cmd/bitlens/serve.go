package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/bitlens/internal/api"
	"github.com/zsiec/bitlens/internal/certs"
	"github.com/zsiec/bitlens/internal/config"
	"github.com/zsiec/bitlens/internal/logger"
	"github.com/zsiec/bitlens/internal/metrics"
	"github.com/zsiec/bitlens/internal/session"
)

const shutdownTimeout = 5 * time.Second

type serveOptions struct {
	addr      string
	root      string
	tls       bool
	tlsHosts  string
	logFormat string
}

func newServeCmd() *cobra.Command {
	var o serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session API and live feed over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromEnv()
			if cmd.Flags().Changed("addr") {
				cfg.Addr = o.addr
			}
			if cmd.Flags().Changed("log-format") {
				cfg.LogFormat = o.logFormat
			}
			log := logger.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			slog.SetDefault(log)
			return runServe(cmd.Context(), cfg, o, log)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.addr, "addr", "", "listen address (default $BITLENS_ADDR or :8080)")
	f.StringVar(&o.root, "root", ".", "directory session paths are resolved in")
	f.BoolVar(&o.tls, "tls", false, "serve HTTPS with a generated self-signed certificate")
	f.StringVar(&o.tlsHosts, "tls-hosts", "", "comma-separated extra host names or IPs for the certificate")
	f.StringVar(&o.logFormat, "log-format", "", "log format, text or json")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, o serveOptions, log *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	met := metrics.New()
	reg := session.NewRegistry(log,
		session.WithObserver(met),
		session.WithMaxDetail(cfg.MaxDetailRows),
		session.WithWindow(cfg.BitrateWindow),
		session.WithFrameRate(cfg.FrameRate),
		session.WithProbeWindow(cfg.ProbeWindow),
		session.WithEventBuffer(cfg.EventBuffer),
	)
	defer reg.CloseAll()

	h := api.NewHandler(api.Config{
		Registry: reg,
		Log:      log,
		Metrics:  met,
		Root:     o.root,
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	if o.tls {
		cert, err := certs.Generate(0, strings.Split(o.tlsHosts, ",")...)
		if err != nil {
			return fmt.Errorf("generate certificate: %w", err)
		}
		srv.TLSConfig = cert.TLSConfig()
		log.Info("certificate generated",
			"fingerprint", cert.FingerprintHex(),
			"expires", cert.NotAfter.Format(time.RFC3339),
		)
	}

	log.Info("bitlens starting", "version", resolveVersion(), "addr", cfg.Addr, "root", o.root, "tls", o.tls)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if o.tls {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
