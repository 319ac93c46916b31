package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/maxpert/sysfwd/admin"
	"github.com/maxpert/sysfwd/cfg"
	"github.com/maxpert/sysfwd/forwarder"
	"github.com/maxpert/sysfwd/source"
	"github.com/maxpert/sysfwd/syslog"
	"github.com/maxpert/sysfwd/telemetry"
)

const (
	metricsInterval = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("instance_id", cfg.Config.InstanceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("sysfwd - event log to syslog forwarder")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("sysfwd stopped with error")
	}
	log.Info().Msg("sysfwd stopped")
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := forwarder.OpenPebbleStore(cfg.Config.DataDir, cfg.Config.InstanceID)
	if err != nil {
		return fmt.Errorf("failed to open watermark store: %w", err)
	}
	watermark, err := forwarder.NewWatermark(store)
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to load watermark: %w", err)
	}
	defer watermark.Close()

	src, err := source.New(cfg.Config)
	if err != nil {
		return err
	}
	defer src.Close()

	fwd, err := forwarder.New(forwarder.Options{
		Fetcher:    src,
		Watermark:  watermark,
		Facilities: syslog.NewFacilityTable(cfg.HasExtendedFacilities()),
		Variables:  telemetry.VariableStore{},
	})
	if err != nil {
		return err
	}

	status := fwd.Apply(cfg.Config)
	log.Info().
		Str("status", status.String()).
		Str("source", string(cfg.Config.Source.Type)).
		Str("data_dir", cfg.Config.DataDir).
		Msg("Forwarder configured")

	fwd.Start()
	defer fwd.Stop()

	collector := telemetry.NewMetricsCollector(fwd, metricsInterval)
	collector.Start()
	defer collector.Stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Config.Admin.Enabled {
		srv := newAdminServer(fwd, src)
		g.Go(func() error {
			log.Info().Str("addr", srv.Addr).Msg("Admin API listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// Wait for a signal or a listener failure
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	return g.Wait()
}

func newAdminServer(fwd *forwarder.Forwarder, src source.Source) *http.Server {
	// Events can only be pushed when the journal is the active source
	var journal source.Appender
	if j, ok := src.(*source.Journal); ok {
		journal = j
	}

	mux := http.NewServeMux()
	admin.RegisterRoutes(mux, admin.NewAdminHandlers(fwd, journal))
	if h := telemetry.GetMetricsHandler(); h != nil {
		mux.Handle("/metrics", h)
	}

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Config.Admin.BindAddress, cfg.Config.Admin.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
