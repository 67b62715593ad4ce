package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"geoquest/server/api"
	"geoquest/server/auth"
	"geoquest/server/cloud"
	"geoquest/server/config"
	"geoquest/server/engine"
	"geoquest/server/logging"
	"geoquest/server/metrics"
	"geoquest/server/player"
	"geoquest/server/srv"
	"geoquest/server/telemetry"
	"geoquest/server/tuning"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "geoquest-server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New("geoquest-server", logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	tun, err := tuning.Load(cfg.TuningPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var clients cloud.Clients
	if cfg.NeedsAWS() {
		if clients, err = cloud.NewClients(ctx, cfg.AWSRegion); err != nil {
			return fmt.Errorf("aws: %w", err)
		}
	}

	store, err := openStore(cfg, clients, logging.Component(log, "store"))
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	listeners := []engine.Listener{reg}
	var pub *telemetry.Publisher
	if cfg.SQSQueue != "" {
		pub = telemetry.NewPublisher(clients.SQS, cfg.SQSQueue, 1024, logging.Component(log, "telemetry"))
		listeners = append(listeners, pub)
	}

	a, err := auth.NewAuth(auth.Options{
		DataDir: cfg.DataDir,
		Issuer:  cfg.JWTIssuer,
		Logger:  logging.Component(log, "auth"),
	})
	if err != nil {
		return err
	}

	hub := srv.NewHub(srv.Options{
		Store:     store,
		Tuning:    tun,
		Logger:    logging.Component(log, "hub"),
		Listeners: listeners,
		Metrics:   reg,
		TickEvery: cfg.TickEvery,
	})

	router := api.NewRouter(api.Deps{
		Auth:    a,
		Store:   store,
		Players: hub,
		WS:      http.HandlerFunc(hub.ServeWS),
		Metrics: reg.Handler(),
		Logger:  logging.Component(log, "http"),
	})

	s := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Str("store", cfg.Store).Msg("server listening")
		if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return hub.Run(gctx) })
	if pub != nil {
		g.Go(func() error { return pub.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(cfg config.Config, clients cloud.Clients, log zerolog.Logger) (player.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		log.Warn().Msg("memory store: progress is lost on restart")
		return player.NewMemoryStore(), nil
	case config.StoreS3:
		return player.NewS3Store(clients.S3, cfg.S3Bucket, cfg.S3Prefix, log)
	default:
		return player.NewFileStore(filepath.Join(cfg.DataDir, "players"), log)
	}
}
