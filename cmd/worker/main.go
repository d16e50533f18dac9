package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"wacampaign/internal/app"
	"wacampaign/internal/config"
	"wacampaign/internal/logger"
	"wacampaign/internal/queue"
	"wacampaign/internal/service"
)

func main() {
	// Load .env file (ignore error in production)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	dispatcher := service.NewDispatcher(
		a.Campaigns,
		a.Messages,
		a.Sessions,
		a.Contacts,
		a.Providers,
		a.Sequencer,
		a.Synchronizer,
		service.DispatcherConfig{
			SendTimeout:     cfg.Dispatch.SendTimeout,
			StaleAfter:      cfg.Dispatch.StaleAfter,
			SkipUnreachable: cfg.Dispatch.SkipUnreachable,
		},
	)
	// The worker never publishes; resumed and due campaigns are launched by the scheduler directly.
	campaignSvc := service.NewCampaignService(a.Campaigns, a.Messages, a.Sessions, a.Contacts, a.Sequencer, nil)
	scheduler := service.NewScheduler(a.Campaigns, campaignSvc, dispatcher, cfg.Dispatch.SchedulerInterval)

	conn, err := queue.NewConnection(cfg.GetRabbitMQURL())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	defer conn.Close()

	consumer, err := queue.NewConsumer(conn, cfg.RabbitMQ.DispatchQueue, func(ctx context.Context, job *queue.DispatchJob) error {
		if !dispatcher.Launch(ctx, job.CampaignID) {
			log.Debug().Int("campaign_id", job.CampaignID).Msg("Campaign already dispatching in this worker")
		}
		return nil
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create consumer")
	}
	if err := consumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start consumer")
	}
	log.Info().Str("queue", cfg.RabbitMQ.DispatchQueue).Strs("providers", a.ProviderNames()).Msg("Worker started")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.Synchronizer.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down gracefully...")

	if err := consumer.Stop(); err != nil {
		log.Error().Err(err).Msg("Error stopping consumer")
	}
	wg.Wait()
	dispatcher.Wait()

	log.Info().Msg("Worker stopped")
}
