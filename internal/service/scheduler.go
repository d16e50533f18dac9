package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"wacampaign/internal/repository"
)

// Launcher starts dispatch of a running campaign in the background
type Launcher interface {
	Launch(ctx context.Context, campaignID int) bool
}

// Scheduler starts scheduled campaigns when they fall due and picks up running campaigns
// left behind by a restarted worker.
type Scheduler struct {
	campaigns repository.CampaignRepository
	activator *CampaignService
	launcher  Launcher
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewScheduler creates a new scheduler
func NewScheduler(campaigns repository.CampaignRepository, activator *CampaignService, launcher Launcher, interval time.Duration) *Scheduler {
	return &Scheduler{
		campaigns: campaigns,
		activator: activator,
		launcher:  launcher,
		interval:  interval,
		batchSize: 50,
		now:       time.Now,
	}
}

// Run ticks until ctx is done
func (s *Scheduler) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("Campaign scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			log.Info().Msg("Campaign scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick activates due campaigns and launches every running campaign
func (s *Scheduler) Tick(ctx context.Context) {
	due, err := s.campaigns.ListDue(ctx, s.now(), s.batchSize)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list due campaigns")
	}
	for _, campaign := range due {
		if err := s.activator.Activate(ctx, campaign); err != nil {
			log.Warn().Err(err).Int("campaign_id", campaign.ID).Msg("Failed to activate scheduled campaign")
			continue
		}
		s.launcher.Launch(ctx, campaign.ID)
	}

	running, err := s.campaigns.ListRunning(ctx, s.batchSize)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list running campaigns")
		return
	}
	for _, campaign := range running {
		if s.launcher.Launch(ctx, campaign.ID) {
			log.Info().Int("campaign_id", campaign.ID).Msg("Resumed dispatch of running campaign")
		}
	}
}
