package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/andy6609/ws-inspector/internal/config"
	"github.com/andy6609/ws-inspector/internal/control"
	"github.com/andy6609/ws-inspector/internal/inspector"
	"github.com/andy6609/ws-inspector/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run serves until ctx ends or the control API fails, then stops the
// inspector. A control API failure is returned once shutdown completes.
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	configFile := fs.String("config", "", "config file (default ./inspector.yaml when present)")
	controlAddr := fs.String("control", "", "controller API listen address, overrides control.listen")
	autostart := fs.String("addr", "", "start the inspector on this address at launch")
	if err := fs.Parse(args); err != nil {
		return err
	}

	loader := config.NewLoader(*configFile)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if *controlAddr != "" {
		cfg.Control.Listen = *controlAddr
	}
	if *autostart != "" {
		cfg.Inspector.Autostart = *autostart
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Close()
	logger := log.Logger

	loader.Watch(func(next *config.Config, err error) {
		if err != nil {
			logger.Warn("config reload rejected", "error", err)
			return
		}
		if err := log.SetLevel(next.Log.Level); err != nil {
			logger.Warn("config reload rejected", "error", err)
			return
		}
		logger.Info("config reloaded", "log_level", next.Log.Level)
	})

	events := control.NewBroadcaster(0)
	srv := inspector.NewServer(
		inspector.MultiSink{inspector.LogSink(logger), events},
		logger,
		cfg.Options(),
	)

	if cfg.Inspector.Autostart != "" {
		if _, err := srv.Start(cfg.Inspector.Autostart); err != nil {
			return err
		}
	}

	gin.SetMode(gin.ReleaseMode)
	baseCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()
	api := &http.Server{
		Addr:              cfg.Control.Listen,
		Handler:           control.NewRouter(srv, events, logger, cfg.Inspector.ShutdownTimeout),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	apiErr := make(chan error, 1)
	go func() {
		logger.Info("control api listening", "addr", cfg.Control.Listen)
		if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			apiErr <- err
		}
		close(apiErr)
	}()

	var failed error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-apiErr:
		if err != nil {
			logger.Error("control api failed", "error", err)
			failed = fmt.Errorf("control api: %w", err)
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Inspector.ShutdownTimeout)
	defer cancel()
	if st, _ := srv.Status(); st == inspector.StatusStarted {
		if err := srv.Stop(stopCtx); err != nil {
			logger.Warn("inspector stop", "error", err)
		}
	}

	// Event streams never end on their own.
	cancelStreams()
	if err := api.Shutdown(stopCtx); err != nil {
		logger.Warn("control api shutdown", "error", err)
	}
	return failed
}
