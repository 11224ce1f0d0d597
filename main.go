// csp-billing-adapter is a daemon that converts raw product usage
// samples into periodic billing submissions to a Cloud Service Provider
// marketplace metering API.
//
// It samples usage on a fixed interval, accumulates the samples in a
// persisted cache, and at the end of each billing period reduces them to
// one billable quantity per metric, maps the quantities onto the CSP's
// tiered pricing dimensions, and submits the charge. Between bills it
// emits zero-valued heartbeat submissions so the marketplace can tell a
// quiet adapter from a dead one.
//
// Usage:
//
//	csp-billing-adapter [flags]
//
// Flags:
//
//	-config string  Path to configuration file
//	-health         Check adapter health status
//	-json           Output health check as JSON (with -health)
//	-dry-run        Submit with the dry-run flag set; nothing is charged
//	-verbose        Enable verbose logging
//	-version        Print version and exit
//
// The configuration file is located by -config, then the
// CSP_ADAPTER_CONFIG_FILE environment variable, then the default
// /etc/csp_billing_adapter/config.yaml.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gitlab.com/tinyland/lab/csp-billing-adapter/backend"
	"gitlab.com/tinyland/lab/csp-billing-adapter/backend/filestore"
	"gitlab.com/tinyland/lab/csp-billing-adapter/backend/local"
	"gitlab.com/tinyland/lab/csp-billing-adapter/backend/memory"
	"gitlab.com/tinyland/lab/csp-billing-adapter/billing"
	"gitlab.com/tinyland/lab/csp-billing-adapter/config"
	"gitlab.com/tinyland/lab/csp-billing-adapter/retry"
)

// configEnvVar locates the configuration file when -config is not given.
const configEnvVar = "CSP_ADAPTER_CONFIG_FILE"

// defaultConfigPath is the packaged configuration location.
const defaultConfigPath = "/etc/csp_billing_adapter/config.yaml"

// Exit codes: 0 graceful shutdown, 1 unexpected error, 2 domain error.
const (
	exitOK         = 0
	exitUnexpected = 1
	exitDomain     = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		runHealth   = flag.Bool("health", false, "Check adapter health status")
		healthJSON  = flag.Bool("json", false, "Output health check as JSON (with -health)")
		dryRun      = flag.Bool("dry-run", false, "Submit with the dry-run flag set; nothing is charged")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
		showVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("csp-billing-adapter %s (%s) built %s\n", version, commit, date)
		return exitOK
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.LoadConfig(resolveConfigPath(*configPath))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return exitDomain
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		return exitDomain
	}
	for _, warning := range cfg.Warnings() {
		logger.Warn("config warning", "warning", warning)
	}

	if *runHealth {
		return checkHealth(cfg.Storage.Directory, cfg.QueryPeriod(), *healthJSON)
	}

	registry := backend.NewRegistry()
	registry.RegisterStorage(filestore.New(cfg.Storage.Directory, logger))
	registry.RegisterStorage(memory.New())
	registry.RegisterSampler(local.NewSampler())
	registry.RegisterMeterer(local.NewMeterer(logger))

	backends, err := registry.Bind(cfg)
	if err != nil {
		logger.Error("backend binding failed", "error", err)
		return exitDomain
	}

	// A down CSP endpoint must not be hammered on every tick; the
	// breaker fails fast, which flows through the normal
	// submission-failure path and is retried once it half-opens.
	breakerCfg := retry.DefaultConfig()
	breakerCfg.Logger = logger
	backends.Meterer = retry.NewBreaker(backends.Meterer, breakerCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal", "signal", sig)
		cancel()
	}()

	logger.Info("starting csp-billing-adapter",
		"version", version,
		"config", resolveConfigPath(*configPath),
		"dry_run", *dryRun,
	)

	d := newDaemon(cfg, backends, logger, *dryRun)
	if err := d.run(ctx); err != nil {
		if billing.IsAdapterError(err) {
			logger.Error("adapter failed", "error", err)
			return exitDomain
		}
		logger.Error("unexpected failure", "error", err)
		return exitUnexpected
	}
	return exitOK
}

// resolveConfigPath applies the flag > environment > packaged-default
// precedence for the configuration file location.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(configEnvVar); env != "" {
		return env
	}
	return defaultConfigPath
}
