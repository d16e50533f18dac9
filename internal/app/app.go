// Package app wires the components shared by the api and worker binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"wacampaign/internal/ai"
	"wacampaign/internal/config"
	"wacampaign/internal/lock"
	"wacampaign/internal/media"
	"wacampaign/internal/models"
	"wacampaign/internal/provider"
	"wacampaign/internal/repository"
	"wacampaign/internal/service"
)

// App holds the connections, repositories and core services of one process
type App struct {
	Config *config.Config
	DB     *sql.DB
	Redis  *redis.Client

	Locker    lock.Locker
	Providers *provider.Set

	Sessions  repository.SessionRepository
	Campaigns repository.CampaignRepository
	Messages  repository.MessageRepository
	Contacts  repository.ContactRepository

	Synchronizer *service.Synchronizer
	Sequencer    *service.Sequencer
}

// New connects to PostgreSQL (and Redis when configured) and builds the shared services
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info().Str("host", cfg.Database.Host).Str("db", cfg.Database.DBName).Msg("Connected to database")

	a := &App{Config: cfg, DB: db}

	if cfg.Redis.Addr != "" {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.Redis.Ping(pingCtx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		a.Locker = lock.NewRedisLocker(a.Redis, cfg.Redis.LockTTL)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Using Redis session locks")
	} else {
		a.Locker = lock.NewLocalLocker()
		log.Warn().Msg("REDIS_ADDR not set, session locks are process-local")
	}

	a.Providers, err = buildProviders(cfg.Providers)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Sessions = repository.NewSessionRepository(db, a.Locker)
	a.Campaigns = repository.NewCampaignRepository(db)
	a.Messages = repository.NewMessageRepository(db)
	a.Contacts = repository.NewContactRepository(db)

	a.Synchronizer = service.NewSynchronizer(a.Sessions, a.Providers, a.Locker, cfg.Sync.Interval)
	a.Sequencer = service.NewSequencer(service.NewTemplateService(), buildResolver(cfg.Media), buildGenerator(ctx, cfg.AI))

	return a, nil
}

// ProviderNames lists the configured providers for health reporting
func (a *App) ProviderNames() []string {
	names := []string{}
	for _, p := range []models.Provider{models.ProviderA, models.ProviderB, models.ProviderC} {
		if a.Providers.Has(p) {
			names = append(names, string(p))
		}
	}
	return names
}

// RedisCmdable returns the Redis client, or nil when locks are process-local
func (a *App) RedisCmdable() redis.Cmdable {
	if a.Redis == nil {
		return nil
	}
	return a.Redis
}

// Close releases the database and Redis connections
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close redis client")
		}
	}
	if err := a.DB.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close database")
	}
}

func buildProviders(cfg config.ProvidersConfig) (*provider.Set, error) {
	set := provider.NewSet()
	if cfg.A.Enabled() {
		adapter, err := provider.NewProviderA(cfg.A)
		if err != nil {
			return nil, fmt.Errorf("failed to configure provider a: %w", err)
		}
		set.Register(models.ProviderA, adapter)
	}
	if cfg.B.Enabled() {
		adapter, err := provider.NewProviderB(cfg.B)
		if err != nil {
			return nil, fmt.Errorf("failed to configure provider b: %w", err)
		}
		set.Register(models.ProviderB, adapter)
	}
	if cfg.C.Enabled() {
		adapter, err := provider.NewProviderC(cfg.C, cfg.ListingCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to configure provider c: %w", err)
		}
		set.Register(models.ProviderC, adapter)
	}
	return set, nil
}

func buildResolver(cfg config.MediaConfig) service.MediaResolver {
	if cfg.S3AccessKey == "" {
		return media.PassthroughResolver{}
	}
	resolver, err := media.NewS3Resolver(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("S3 media resolver unavailable, media URLs are passed through")
		return media.PassthroughResolver{}
	}
	return resolver
}

// buildGenerator returns nil when no key is configured; ai steps then fail per recipient
func buildGenerator(ctx context.Context, cfg config.AIConfig) service.TextGenerator {
	if cfg.GeminiAPIKey == "" {
		return nil
	}
	generator, err := ai.NewGeminiGenerator(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Gemini generator unavailable, ai steps will fail")
		return nil
	}
	return generator
}
