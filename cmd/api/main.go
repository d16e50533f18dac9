package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"wacampaign/internal/app"
	"wacampaign/internal/config"
	"wacampaign/internal/handler"
	"wacampaign/internal/logger"
	"wacampaign/internal/queue"
	"wacampaign/internal/service"
)

const version = "1.0.0"

func main() {
	// Load .env file (ignore error in production)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format, "api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	// The API still serves sessions and campaigns without RabbitMQ; the worker's
	// scheduler picks up running campaigns that were never published.
	var publisher service.DispatchPublisher
	conn, err := queue.NewConnection(cfg.GetRabbitMQURL())
	if err != nil {
		log.Warn().Err(err).Msg("RabbitMQ unavailable, dispatch jobs will not be published")
	} else {
		defer conn.Close()
		pub, err := queue.NewPublisher(conn, cfg.RabbitMQ.DispatchQueue)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create publisher")
		}
		publisher = pub
	}

	sessionSvc := service.NewSessionService(a.Sessions, a.Providers, a.Synchronizer, cfg.Sync.QRTTL)
	campaignSvc := service.NewCampaignService(a.Campaigns, a.Messages, a.Sessions, a.Contacts, a.Sequencer, publisher)
	healthSvc := service.NewHealthService(a.DB, cfg.GetRabbitMQURL(), a.RedisCmdable(), a.ProviderNames(), version)

	router := handler.NewRouter(handler.Handlers{
		Health:   handler.NewHealthHandler(healthSvc),
		Sessions: handler.NewSessionHandler(sessionSvc),
		Campaign: handler.NewCampaignHandler(campaignSvc),
		Preview:  handler.NewPreviewHandler(campaignSvc),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Strs("providers", a.ProviderNames()).Msg("API server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	log.Info().Msg("API server stopped")
}
