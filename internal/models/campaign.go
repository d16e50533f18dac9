package models

import (
	"fmt"
	"time"
)

// CampaignStatus represents valid campaign statuses
type CampaignStatus string

const (
	CampaignStatusPending   CampaignStatus = "pending"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
)

var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignStatusPending: {CampaignStatusRunning},
	CampaignStatusRunning: {CampaignStatusPaused, CampaignStatusCompleted, CampaignStatusFailed},
	CampaignStatusPaused:  {CampaignStatusRunning},
}

// ParseCampaignStatus validates a status string coming from an API filter
func ParseCampaignStatus(s string) (CampaignStatus, error) {
	status := CampaignStatus(s)
	switch status {
	case CampaignStatusPending, CampaignStatusRunning, CampaignStatusPaused,
		CampaignStatusCompleted, CampaignStatusFailed:
		return status, nil
	}
	return "", fmt.Errorf("invalid status: must be one of pending, running, paused, completed, failed")
}

// CanTransition reports whether the state machine allows moving from one status to another
func CanTransition(from, to CampaignStatus) bool {
	for _, next := range campaignTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusFailed
}

// Campaign represents a bulk WhatsApp send job
type Campaign struct {
	ID              int            `json:"id" db:"id"`
	TenantID        int            `json:"tenant_id" db:"tenant_id"`
	Name            string         `json:"name" db:"name"`
	TargetTags      []int64        `json:"target_tags" db:"target_tags"`
	SessionPool     []string       `json:"session_pool" db:"session_pool"`
	MessageSpec     MessageSpec    `json:"message_spec" db:"message_spec"`
	Pacing          int            `json:"pacing" db:"pacing"`
	ScheduledAt     *time.Time     `json:"scheduled_at,omitempty" db:"scheduled_at"`
	Status          CampaignStatus `json:"status" db:"status"`
	TotalRecipients int            `json:"total_recipients" db:"total_recipients"`
	Sent            int            `json:"sent" db:"sent"`
	Failed          int            `json:"failed" db:"failed"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// CampaignStats represents per-status counts of a campaign's recipient rows
type CampaignStats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	InFlight int `json:"in_flight"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
}

// Remaining is the number of rows that have not reached a terminal status
func (s CampaignStats) Remaining() int {
	return s.Pending + s.InFlight
}

// CampaignWithStats represents a campaign with its statistics
type CampaignWithStats struct {
	Campaign
	Stats CampaignStats `json:"stats"`
}

// Validate checks if the campaign fields are valid
func (c *Campaign) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("campaign name is required")
	}
	if len(c.TargetTags) == 0 {
		return fmt.Errorf("at least one target tag is required")
	}
	if len(c.SessionPool) == 0 {
		return fmt.Errorf("session pool must contain at least one session")
	}
	seen := make(map[string]bool, len(c.SessionPool))
	for _, name := range c.SessionPool {
		if seen[name] {
			return fmt.Errorf("session %s appears twice in the pool", name)
		}
		seen[name] = true
	}
	if c.Pacing < 0 {
		return fmt.Errorf("pacing cannot be negative")
	}
	if err := c.MessageSpec.Validate(); err != nil {
		return fmt.Errorf("invalid message spec: %w", err)
	}
	return nil
}

// IsScheduled checks if campaign is scheduled for future
func (c *Campaign) IsScheduled() bool {
	return c.ScheduledAt != nil && c.ScheduledAt.After(time.Now())
}

// IsDue reports whether a pending campaign should be started at now
func (c *Campaign) IsDue(now time.Time) bool {
	return c.Status == CampaignStatusPending && (c.ScheduledAt == nil || !c.ScheduledAt.After(now))
}
