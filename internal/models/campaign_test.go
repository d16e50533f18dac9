package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]CampaignStatus{
		{CampaignStatusPending, CampaignStatusRunning},
		{CampaignStatusRunning, CampaignStatusPaused},
		{CampaignStatusPaused, CampaignStatusRunning},
		{CampaignStatusRunning, CampaignStatusCompleted},
		{CampaignStatusRunning, CampaignStatusFailed},
	}
	for _, pair := range allowed {
		assert.True(t, CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}

	denied := [][2]CampaignStatus{
		{CampaignStatusPending, CampaignStatusCompleted},
		{CampaignStatusPending, CampaignStatusPaused},
		{CampaignStatusPaused, CampaignStatusCompleted},
		{CampaignStatusCompleted, CampaignStatusRunning},
		{CampaignStatusFailed, CampaignStatusRunning},
	}
	for _, pair := range denied {
		assert.False(t, CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}

func TestCampaign_Validate(t *testing.T) {
	valid := func() *Campaign {
		return &Campaign{
			Name:        "Promo",
			TargetTags:  []int64{1},
			SessionPool: []string{"t1_main"},
			MessageSpec: MessageSpec{Steps: []Step{TextStep{Body: "hi"}}},
		}
	}

	assert.NoError(t, valid().Validate())

	c := valid()
	c.Name = ""
	assert.Error(t, c.Validate())

	c = valid()
	c.SessionPool = nil
	assert.Error(t, c.Validate())

	c = valid()
	c.SessionPool = []string{"t1_a", "t1_a"}
	assert.Error(t, c.Validate())

	c = valid()
	c.Pacing = -1
	assert.Error(t, c.Validate())

	c = valid()
	c.TargetTags = nil
	assert.Error(t, c.Validate())
}

func TestCampaign_IsDue(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	assert.True(t, (&Campaign{Status: CampaignStatusPending}).IsDue(now))
	assert.True(t, (&Campaign{Status: CampaignStatusPending, ScheduledAt: &past}).IsDue(now))
	assert.False(t, (&Campaign{Status: CampaignStatusPending, ScheduledAt: &future}).IsDue(now))
	assert.False(t, (&Campaign{Status: CampaignStatusRunning}).IsDue(now))
}
