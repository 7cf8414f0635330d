package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/scalytics/core-orchestrator/cancelreg"
	"github.com/scalytics/core-orchestrator/config"
	"github.com/scalytics/core-orchestrator/event"
	"github.com/scalytics/core-orchestrator/lifecycle"
	"github.com/scalytics/core-orchestrator/logmon"
	"github.com/scalytics/core-orchestrator/metrics"
	"github.com/scalytics/core-orchestrator/policy"
	"github.com/scalytics/core-orchestrator/server"
	"github.com/scalytics/core-orchestrator/store"
)

var (
	serveConfigPath string
	serveListen     string
	serveWatch      bool
)

// configReloadedEvent is published on the generic event registry (spec §9's
// "global singletons ... treat as named services" note — here used for the
// one genuinely process-wide ambient notification, a config-file reload,
// rather than the per-activation Bus) whenever the watched YAML config file
// changes on disk and is re-parsed successfully.
type configReloadedEvent struct {
	cfg config.Server
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "config.yaml", "config file path")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch-config", true, "automatically reload config on change")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestrator server",
	Long:  "Start the admin HTTP server, the local model lifecycle manager, and the streaming gateway.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if _, statErr := os.Stat(serveConfigPath); statErr != nil {
		if os.IsNotExist(statErr) {
			if err := os.MkdirAll(filepath.Dir(serveConfigPath), 0755); err != nil && filepath.Dir(serveConfigPath) != "." {
				return fmt.Errorf("creating config directory: %w", err)
			}
			if err := os.WriteFile(serveConfigPath, []byte{}, 0644); err != nil {
				return fmt.Errorf("creating empty config: %w", err)
			}
			fmt.Printf("Created empty config at %s\n", serveConfigPath)
		} else {
			return fmt.Errorf("checking config file: %w", statErr)
		}
	}

	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Listen = serveListen
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger := logmon.New(1024, os.Stdout)
	switch cfg.LogLevel {
	case "debug":
		logger.SetLevel(logmon.LevelDebug)
	case "warn":
		logger.SetLevel(logmon.LevelWarn)
	case "error":
		logger.SetLevel(logmon.LevelError)
	default:
		logger.SetLevel(logmon.LevelInfo)
	}

	var instruments *metrics.Instruments
	if _, err := metrics.InitProvider(metrics.ProviderConfig{ServiceName: "core-orchestrator"}); err != nil {
		logger.Warnf("metrics provider init failed: %v", err)
	} else if inst, err := metrics.NewInstruments("core-orchestrator"); err != nil {
		logger.Warnf("metrics instrument creation failed: %v", err)
	} else {
		instruments = inst
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	bus := event.NewBus()
	bus.SetInstruments(instruments)
	cancelReg := cancelreg.New()
	policyEngine := policy.New(db)
	manager := lifecycle.New(db, bus, cancelReg, logger, lifecycle.EngineConfig{
		LauncherPath: cfg.EngineLauncherPath,
		Port:         cfg.EnginePort,
		DownloadDir:  cfg.DownloadDir,
	}, lifecycle.PortSweeper{})
	manager.SetInstruments(instruments)

	srv := server.New(server.Config{
		DB:          db,
		Bus:         bus,
		Policy:      policyEngine,
		Manager:     manager,
		CancelReg:   cancelReg,
		Logger:      logger,
		AdminAPIKey: cfg.AdminAPIKey,
	})

	gin.SetMode(gin.ReleaseMode)

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("binding to %s: %w", cfg.Listen, err)
	}
	defer listener.Close()

	httpServer := &http.Server{Handler: srv}

	offConfigReloaded := event.On(func(e configReloadedEvent) {
		switch e.cfg.LogLevel {
		case "debug":
			logger.SetLevel(logmon.LevelDebug)
		case "warn":
			logger.SetLevel(logmon.LevelWarn)
		case "error":
			logger.SetLevel(logmon.LevelError)
		default:
			logger.SetLevel(logmon.LevelInfo)
		}
		logger.Infof("configuration reloaded from disk, log level now %s", e.cfg.LogLevel)
	})
	defer offConfigReloaded()

	var watcher *config.Watcher
	if serveWatch {
		debouncedReload := config.Debounce(time.Second, func() {
			reloaded, err := config.Load(serveConfigPath)
			if err != nil {
				logger.Warnf("configuration file changed but could not be reloaded: %v", err)
				return
			}
			event.Emit(configReloadedEvent{cfg: reloaded})
		})
		watcher, err = config.WatchFile(serveConfigPath, debouncedReload)
		if err != nil {
			logger.Warnf("could not start config watcher: %v", err)
		} else {
			defer watcher.Close()
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitChan := make(chan struct{})
	go func() {
		sig := <-sigChan
		logger.Infof("received signal %v, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		_ = httpServer.Shutdown(ctx)
		close(exitChan)
	}()

	logger.Infof("core-orchestrator listening on %s", cfg.Listen)
	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Errorf("fatal server error: %v", err)
			os.Exit(1)
		}
	}()

	<-exitChan
	logger.Infof("core-orchestrator stopped")
	return nil
}
