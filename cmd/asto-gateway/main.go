package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"asto/internal/auth"
	"asto/internal/config"
	"asto/internal/factory"
	"asto/internal/gateway"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

func Run(ctx context.Context) error {

	configPath := flag.String("config", "", "configuration file")
	listen := flag.String("listen", "", "HTTP listen address (overrides gateway.listen)")
	dataDir := flag.String("data-dir", "", "directory for metadata and multipart parts (overrides gateway.data-dir)")
	tlsListen := flag.String("tls-listen", ":8443", "HTTPS listen address")
	certFile := flag.String("tls-cert", "", "TLS certificate file")
	keyFile := flag.String("tls-key", "", "TLS key file")

	flag.Parse()

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           log.DebugLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})

	slog.SetDefault(slog.New(handler))

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		// No file: gateway defaults over the built-in filesystem storage.
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		return err
	}

	if *listen != "" {
		cfg.Gateway.Listen = *listen
	}
	if *dataDir != "" {
		cfg.Gateway.DataDir = *dataDir
	}

	// Ensure data directory is absolute for easier debugging.
	absDataDir, err := filepath.Abs(cfg.Gateway.DataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data directory: %w", err)
	}

	opts := []gateway.ConfigOption{
		gateway.WithDataDir(absDataDir),
		gateway.WithRegion(cfg.Gateway.Region),
	}

	if cfg.Storage.Type != "" {
		backend, err := factory.New(cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to create backing storage: %w", err)
		}
		slog.Info("Serving configured storage", "type", cfg.Storage.Type)
		opts = append(opts, gateway.WithStorage(backend))
	}

	if cfg.Gateway.AccessKeyID != "" {
		opts = append(opts, gateway.WithAuthEngine(auth.NewDefaultAuthEngine(auth.Credentials{
			AccessKeyID:     cfg.Gateway.AccessKeyID,
			SecretAccessKey: cfg.Gateway.SecretAccessKey,
		})))
	} else {
		slog.Warn("No gateway credentials configured, using defaults", "access_key_id", gateway.DefaultAccessKeyID)
	}

	server, err := gateway.NewServer(ctx, gateway.NewConfig(opts...))
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}

	defer server.Close()

	router := server.Handler()

	httpServer := &http.Server{
		Addr:              cfg.Gateway.Listen,
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
	}

	httpsServer := &http.Server{
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		Addr:              *tlsListen,
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		return httpsServer.Shutdown(context.WithoutCancel(ctx))
	})

	eg.Go(func() error {
		<-ctx.Done()
		return httpServer.Shutdown(context.WithoutCancel(ctx))
	})

	eg.Go(func() error {
		if *certFile == "" || *keyFile == "" {
			slog.Debug("Skipping HTTPS service because no certificate was provided")
			return nil
		}

		slog.Info("Starting asto HTTPS gateway", "addr", *tlsListen)
		err := httpsServer.ListenAndServeTLS(*certFile, *keyFile)
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	eg.Go(func() error {
		slog.Info("Starting asto HTTP gateway", "addr", cfg.Gateway.Listen, "data_dir", absDataDir)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	slog.Info("asto gateway started")
	return eg.Wait()

}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx); err != nil {
		slog.Error("asto gateway exited with error", "error", err)
		stop()
		os.Exit(1)
	}
}
