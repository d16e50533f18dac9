package models

import "time"

// MessageStatus represents valid recipient row statuses
type MessageStatus string

const (
	MessageStatusPending  MessageStatus = "pending"
	MessageStatusInFlight MessageStatus = "in_flight"
	MessageStatusSent     MessageStatus = "sent"
	MessageStatusFailed   MessageStatus = "failed"
)

// IsTerminal reports whether the row already carries its outcome
func (s MessageStatus) IsTerminal() bool {
	return s == MessageStatusSent || s == MessageStatusFailed
}

// CampaignMessage is one recipient of one campaign
type CampaignMessage struct {
	ID                int            `json:"id" db:"id"`
	CampaignID        int            `json:"campaign_id" db:"campaign_id"`
	ContactID         int            `json:"contact_id" db:"contact_id"`
	Phone             string         `json:"phone" db:"phone"`
	Status            MessageStatus  `json:"status" db:"status"`
	SentAt            *time.Time     `json:"sent_at,omitempty" db:"sent_at"`
	SessionUsed       *string        `json:"session_used,omitempty" db:"session_used"`
	ErrorCategory     *ErrorCategory `json:"error_category,omitempty" db:"error_category"`
	ErrorDetail       *string        `json:"error_detail,omitempty" db:"error_detail"`
	SelectedVariation *string        `json:"selected_variation,omitempty" db:"selected_variation"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" db:"updated_at"`
}

// MessageOutcome is the terminal result written once onto a claimed row
type MessageOutcome struct {
	Status            MessageStatus
	SentAt            *time.Time
	SessionUsed       string
	ErrorCategory     *ErrorCategory
	ErrorDetail       *string
	SelectedVariation *string
	// SessionLevel is not stored; it tells the dispatcher to take the session out of rotation
	SessionLevel bool
}

// SentOutcome builds the outcome of a delivered message
func SentOutcome(session string, at time.Time, variation string) MessageOutcome {
	o := MessageOutcome{Status: MessageStatusSent, SentAt: &at, SessionUsed: session}
	if variation != "" {
		o.SelectedVariation = &variation
	}
	return o
}

// FailedOutcome builds the outcome of a message that could not be delivered
func FailedOutcome(session string, category ErrorCategory, detail, variation string) MessageOutcome {
	o := MessageOutcome{
		Status:        MessageStatusFailed,
		SessionUsed:   session,
		ErrorCategory: &category,
		ErrorDetail:   &detail,
	}
	if variation != "" {
		o.SelectedVariation = &variation
	}
	return o
}
