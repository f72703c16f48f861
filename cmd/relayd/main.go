// Package main is the entry point for the relayd resilience service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/askelement/relay/internal/config"
	"github.com/askelement/relay/internal/health"
	"github.com/askelement/relay/internal/observability"
	"github.com/askelement/relay/internal/resilience"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	bootstrap := initLogger(flags)
	cfg := loadConfig(flags, bootstrap)

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		bootstrap.Fatal("failed to initialize logger", observability.Error(err))
	}
	observability.SetGlobalLogger(logger)
	defer func() { _ = logger.Sync() }()

	layer, err := resilience.New(cfg, resilience.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to initialize resilience layer", observability.Error(err))
	}

	run(cfg, layer, flags.configPath, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("RELAY_CONFIG_PATH", "configs/relay.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("RELAY_LOG_LEVEL", ""),
		"Log level override (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("RELAY_LOG_FORMAT", ""),
		"Log format override (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("relayd version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes a bootstrap logger from flags. The configured
// logger replaces it once the configuration is loaded.
func initLogger(flags cliFlags) observability.Logger {
	cfg := observability.DefaultLogConfig()
	if flags.logLevel != "" {
		cfg.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Format = flags.logFormat
	}

	logger, err := observability.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// loadConfig loads and validates the configuration, applying flag overrides.
func loadConfig(flags cliFlags, logger observability.Logger) *config.Config {
	logger.Info("starting relayd",
		observability.String("version", version),
		observability.String("config", flags.configPath),
	)

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}

	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}

	logger.Info("configuration loaded",
		observability.Int("dependencies", len(cfg.Dependencies)),
		observability.String("redis", cfg.Redis.URL),
		observability.Bool("admin", cfg.Admin.Enabled),
	)

	return cfg
}

// run starts the admin server and config watcher, then blocks until a
// shutdown signal arrives.
func run(cfg *config.Config, layer *resilience.Resilience, configPath string, logger observability.Logger) {
	checker := health.NewChecker(version)
	checker.Register("redis", health.PingCheck(layer.Ping))

	var admin *adminServer
	if cfg.Admin.Enabled {
		admin = newAdminServer(cfg.Admin, checker, layer, logger)
		admin.start()
	}

	watcher := startConfigWatcher(configPath, logger)

	waitForShutdown(layer, admin, watcher, logger)
}

// startConfigWatcher watches the configuration file for changes. Resilience
// policies are immutable for the lifetime of the instance, so a change is
// logged as requiring a restart rather than applied live.
func startConfigWatcher(configPath string, logger observability.Logger) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		logger.Warn("configuration file changed, restart required to apply",
			observability.String("config", configPath),
			observability.Int("dependencies", len(next.Dependencies)),
		)
	}, config.WithWatcherLogger(logger))
	if err != nil {
		logger.Warn("config watcher disabled", observability.Error(err))
		return nil
	}

	if err := watcher.Start(context.Background()); err != nil {
		logger.Warn("config watcher disabled", observability.Error(err))
		return nil
	}

	return watcher
}

// waitForShutdown waits for SIGINT/SIGTERM and performs graceful shutdown.
func waitForShutdown(layer *resilience.Resilience, admin *adminServer, watcher *config.Watcher, logger observability.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", observability.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}

	if admin != nil {
		if err := admin.stop(shutdownCtx); err != nil {
			logger.Error("failed to stop admin server gracefully", observability.Error(err))
		}
	}

	if err := layer.Close(); err != nil {
		logger.Error("failed to close resilience layer", observability.Error(err))
	}

	logger.Info("relayd stopped")
}

// getEnvOrDefault returns the environment variable value or a fallback.
func getEnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
