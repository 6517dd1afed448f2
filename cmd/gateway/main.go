package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	cfg "github.com/fabian4/console-proxy-gateway/internal/config"
	"github.com/fabian4/console-proxy-gateway/internal/handler"
	"github.com/fabian4/console-proxy-gateway/internal/lifecycle"
	"github.com/fabian4/console-proxy-gateway/internal/metrics"
	"github.com/fabian4/console-proxy-gateway/internal/probe"
	"github.com/fabian4/console-proxy-gateway/internal/ratelimit"
	"github.com/fabian4/console-proxy-gateway/internal/transport"
	"github.com/fabian4/console-proxy-gateway/internal/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	c, err := loadConfig(args)
	if err != nil || c == nil {
		return err
	}

	logger := c.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	srv, cleanup, err := newServer(c, logger, os.Stdout)
	if err != nil {
		return err
	}
	defer cleanup()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// loadConfig parses flags and applies them over the file and environment.
// It returns a nil Config when --version was handled.
func loadConfig(args []string) (*cfg.Config, error) {
	flags := pflag.NewFlagSet("gateway", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to YAML config (optional)")
	backendURL := flags.String("backend-url", "", "backend origin; overrides "+cfg.EnvBackendURL+" and the config file")
	listen := flags.String("listen", "", "listen address, e.g. :3000")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if *showVersion {
		fmt.Println("console-proxy-gateway", version.Value)
		return nil, nil
	}

	c, err := cfg.Load(*configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if *backendURL != "" {
		if err := c.SetOrigin(*backendURL); err != nil {
			return nil, fmt.Errorf("--backend-url: %w", err)
		}
	}
	if *listen != "" {
		c.SetListen(*listen)
	}
	return c, nil
}

// newServer wires every component from c. cleanup stops background work
// and closes idle upstream connections.
func newServer(c *cfg.Config, logger *slog.Logger, accessLog io.Writer) (*http.Server, func(), error) {
	rule := c.Backend.Rule()
	logger.Info("proxy rewrite configured", "rule", rule)
	if rule.Sentinel {
		logger.Warn("backend origin not configured; every /api/proxy request will 404",
			"env", cfg.EnvBackendURL, "sentinel", rule.DestinationTemplate())
	}

	topts := transport.DefaultOptions()
	topts.InsecureSkipVerify = c.Backend.TLS.InsecureSkipVerify
	if c.Backend.TLS.CAFile != "" {
		pool, err := transport.LoadRootCAs(c.Backend.TLS.CAFile)
		if err != nil {
			return nil, nil, fmt.Errorf("backend.tls: %w", err)
		}
		topts.RootCAs = pool
	}
	transports := transport.NewRegistry(topts)
	reg := metrics.NewRegistry()

	var limiter *ratelimit.Limiter
	stopPrune := func() {}
	if c.RateLimit.Enabled() {
		limiter = ratelimit.NewLimiter(c.RateLimit)
		stopPrune = pruneLoop(limiter, time.Minute, 10*time.Minute)
	}

	gw := handler.NewGateway(handler.Options{
		Rule:            rule,
		Transports:      transports,
		UpstreamTimeout: c.Timeouts.Upstream,
		AccessLog:       accessLog,
		AccessLogConfig: c.AccessLog,
		Metrics:         reg,
		Limiter:         limiter,
		Logger:          logger,
	})

	p := probe.New(probe.Options{
		BaseURL:     c.Probe.BaseURL,
		Rule:        rule,
		Client:      &http.Client{Transport: transports.Get(transport.Probe), Timeout: c.Probe.Timeout},
		Classifier:  c.Probe.Classifier,
		SampleLimit: c.Probe.SampleLimit,
		Logger:      logger,
		Recorder:    reg,
	})
	probeHandler := &probe.Handler{Probe: p, Tracker: lifecycle.NewTracker()}

	srv := &http.Server{
		Addr:              c.Listen,
		Handler:           handler.NewMux(gw, reg.Handler(), probeHandler),
		ReadTimeout:       c.Timeouts.Read,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      c.Timeouts.Write,
		IdleTimeout:       60 * time.Second,
	}
	logger.Info("console-proxy-gateway listening",
		"version", version.Value, "addr", c.Listen, "probe_base_url", c.Probe.BaseURL)

	cleanup := func() {
		stopPrune()
		transports.CloseIdle()
	}
	return srv, cleanup, nil
}

func pruneLoop(l *ratelimit.Limiter, every, idle time.Duration) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				l.Prune(idle)
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
