package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/Mesh/internal/adapters/http"
	sig "github.com/dkeye/Mesh/internal/adapters/signal"
	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/app/orch"
	"github.com/dkeye/Mesh/internal/config"
	"github.com/dkeye/Mesh/internal/events"
	"github.com/dkeye/Mesh/internal/logging"
	"github.com/dkeye/Mesh/internal/protocol"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Early logger so config.Load can report; replaced once the level is known.
	logging.Init(logging.Config{Level: "info", Pretty: true, ServiceName: "mesh"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "mesh"})

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	bus, err := events.Open(ctx, events.Config{
		Driver: cfg.Events.Driver,
		Buffer: cfg.Events.Buffer,
		Redis: events.RedisConfig{
			Address:  cfg.Events.Redis.Address,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
			Channel:  cfg.Events.Redis.Channel,
		},
		Kafka: events.KafkaConfig{Brokers: cfg.Events.Kafka.Brokers, Topic: cfg.Events.Kafka.Topic},
	})
	if err != nil {
		return fmt.Errorf("events: %w", err)
	}

	hub := sig.NewHub(app.DropThenKick{Limit: cfg.WebSocket.MaxDropped})
	coord := orch.New(orch.Config{
		PacingDelay:  cfg.Signaling.PacingDelay,
		OfferTimeout: cfg.Signaling.OfferTimeout,
	}, hub, bus)
	ctrl := sig.NewSignalWSController(coord, hub, sig.Options{
		ReadLimit:    cfg.WebSocket.ReadLimit,
		PingPeriod:   cfg.WebSocket.PingPeriod,
		PongWait:     cfg.WebSocket.PongWait,
		WriteWait:    cfg.WebSocket.WriteWait,
		SendBuffer:   cfg.WebSocket.SendBuffer,
		RateLimit:    cfg.Signaling.RateLimit,
		RateInterval: cfg.Signaling.RateInterval,
		Limits: protocol.Limits{
			MaxIdentityLen: cfg.Signaling.MaxIdentityLen,
			MaxRoomLen:     cfg.Signaling.MaxRoomLen,
		},
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.SetupRouter(ctx, cfg, coord, ctrl),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Mesh signaling server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		hub.CloseAll()
		err := srv.Shutdown(shutdownCtx)
		coord.Shutdown()
		if cerr := bus.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("event feed close")
		}
		return err
	})
	return g.Wait()
}
