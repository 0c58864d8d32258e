package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/spacemeshos/poe/logging"
	"github.com/spacemeshos/poe/migrations"
	"github.com/spacemeshos/poe/server"
)

// Poe binary version.
// It should be passed during the build with '-ldflags "-X main.version="'.
var version = "unknown"

// poeMain is the true entry point for poe. This function is required since
// defers created in the top-level scope of a main method aren't executed if
// os.Exit() is called.
func poeMain() (err error) {
	// Start with a default Config with sane settings
	cfg := server.DefaultConfig()
	// Pre-parse the command line to check for an alternative Config file
	cfg, err = server.ParseFlags(cfg)
	if err != nil {
		return err
	}
	// Load configuration file overwriting defaults with any specified options
	cfg, err = server.ReadConfigFile(cfg)
	if err != nil {
		return err
	}
	// Parse the command line options again so that they take precedence
	// over the configuration file.
	cfg, err = server.ParseFlags(cfg)
	if err != nil {
		return err
	}
	cfg, err = server.SetupConfig(cfg)
	if err != nil {
		return err
	}

	// Initialize logging
	logLevel := zap.InfoLevel
	if cfg.DebugLog {
		logLevel = zap.DebugLevel
	}
	logger := logging.New(logLevel, logging.FileConfig{
		Path:     filepath.Join(cfg.LogDir, "poe.log"),
		MaxFiles: cfg.MaxLogFiles,
		MaxSize:  cfg.MaxLogFileSize,
	}, cfg.JSONLog)
	defer func() { _ = logger.Sync() }()
	ctx := logging.NewContext(context.Background(), logger)

	defer func() {
		logger.Info("shutdown complete")
	}()

	// Show version at startup.
	logger.Info("starting poe",
		zap.String("version", version),
		zap.String("dir", cfg.PoeDir),
		zap.String("datadir", cfg.DataDir),
		zap.String("dbdir", cfg.DbDir),
		zap.Object("chain", cfg.Chain),
	)

	// Enable http profiling server if requested.
	if cfg.Profile != "" {
		logger.Sugar().Infof("starting HTTP profiling on port %v", cfg.Profile)
		go func() {
			listenAddr := net.JoinHostPort("", cfg.Profile)
			profileRedirect := http.RedirectHandler("/debug/pprof",
				http.StatusSeeOther)
			http.Handle("/", profileRedirect)
			logger.Warn("profiling server stopped", zap.Error(http.ListenAndServe(listenAddr, nil))) //#nosec G114
		}()
	} else {
		// Disable go default unbounded memory profiler.
		runtime.MemProfileRate = 0
	}

	if cfg.CPUProfile != "" {
		f, err := os.Create(cfg.CPUProfile)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	if err := migrations.Migrate(ctx, cfg); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	srv, err := server.New(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			logger.Error("failed to close server", zap.Error(closeErr))
		}
	}()
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failure in server: %w", err)
	}

	return nil
}

func main() {
	// Call the "real" main in a nested manner so the defers will properly
	// be executed in the case of a graceful shutdown.
	if err := poeMain(); err != nil {
		// If it's the flag utility error don't print it,
		// because it was already printed.
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		} else {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
