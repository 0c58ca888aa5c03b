package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"time"

	"github.com/google/uuid"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spacemeshos/endgame/config"
	"github.com/spacemeshos/endgame/logging"
)

// Binary version.
// It should be passed during the build with '-ldflags "-X main.version="'.
var version = "unknown"

// endgameMain is the true entry point. This function is required since
// defers created in the top-level scope of a main method aren't executed if
// os.Exit() is called.
func endgameMain() error {
	var err error
	// Start with a default Config with sane settings
	cfg := config.DefaultConfig()
	// Pre-parse the command line to check for an alternative Config file
	cfg, err = config.ParseFlags(cfg)
	if err != nil {
		return err
	}
	// Logging is not configured yet, config file problems go to stderr.
	cfg, err = config.ReadConfigFile(cfg, zap.NewExample())
	if err != nil {
		return err
	}
	// Parse the command line again so that flags take precedence over the file.
	cfg, err = config.ParseFlags(cfg)
	if err != nil {
		return err
	}
	cfg, err = config.SetupConfig(cfg)
	if err != nil {
		return err
	}

	logLevel := zap.InfoLevel
	if cfg.DebugLog {
		logLevel = zap.DebugLevel
	}
	logger := logging.New(logging.Options{
		Level:      logLevel,
		JSON:       cfg.JSONLog,
		File:       cfg.LogFile(),
		MaxSizeMB:  cfg.MaxLogFileSize,
		MaxAgeDays: cfg.MaxLogAge,
	})
	defer func() {
		logger.Info("shutdown complete")
		_ = logger.Sync()
	}()

	runID := cfg.Simulation.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger = logger.With(zap.String("run_id", runID))
	ctx := logging.NewContext(context.Background(), logger)
	logger.Info("starting", zap.String("version", version), zap.Object("config", cfg))

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

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	sim, err := newSimulation(cfg, runID, nil, logger)
	if err != nil {
		return fmt.Errorf("failed to create simulation: %w", err)
	}

	if cfg.MetricsListen == "" {
		_, err := sim.Run(ctx)
		return err
	}

	// With metrics enabled the process keeps serving them until interrupted.
	srv := &http.Server{
		Addr:              cfg.MetricsListen,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("serving metrics", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		if _, err := sim.Run(ctx); err != nil {
			return err
		}
		logger.Info("simulation done, waiting for interrupt")
		<-ctx.Done()
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

func main() {
	// Call the "real" main in a nested manner so the defers will properly
	// be executed in the case of a graceful shutdown.
	if err := endgameMain(); err != nil {
		// If it's the flag utility error don't print it,
		// because it was already printed.
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
