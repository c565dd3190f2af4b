// internal/model/campaign.go
package model

import "time"

type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// IsTerminal reports whether no further transition or counter change is allowed.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusCancelled
}

func (s CampaignStatus) IsValid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusRunning,
		CampaignStatusPaused, CampaignStatusCompleted, CampaignStatusCancelled:
		return true
	}
	return false
}

const (
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
	ChannelEmail    = "email"
)

// PacingConfig holds the per-campaign abuse-prevention knobs.
type PacingConfig struct {
	MinDelaySeconds   int  `db:"min_delay_seconds" json:"min_delay_seconds" validate:"gte=0"`
	MaxDelaySeconds   int  `db:"max_delay_seconds" json:"max_delay_seconds" validate:"gte=0,gtefield=MinDelaySeconds"`
	DailyLimit        int  `db:"daily_limit" json:"daily_limit" validate:"gte=0"`
	BatchSize         int  `db:"batch_size" json:"batch_size" validate:"gte=1"`
	BatchPauseMinutes int  `db:"batch_pause_minutes" json:"batch_pause_minutes" validate:"gte=0"`
	UseBusinessHours  bool `db:"use_business_hours" json:"use_business_hours"`
}

// DefaultPacing is applied when a campaign is created without pacing settings.
func DefaultPacing() PacingConfig {
	return PacingConfig{
		MinDelaySeconds:   5,
		MaxDelaySeconds:   15,
		DailyLimit:        0,
		BatchSize:         50,
		BatchPauseMinutes: 10,
	}
}

type Campaign struct {
	ID                int            `db:"id" json:"id"`
	Name              string         `db:"name" json:"name"`
	Channel           string         `db:"channel" json:"channel"`
	ChannelInstanceID string         `db:"channel_instance_id" json:"channel_instance_id"`
	Status            CampaignStatus `db:"status" json:"status"`
	MessageTemplate   string         `db:"message_template" json:"message_template"`

	TotalRecipients int `db:"total_recipients" json:"total_recipients"`
	SentCount       int `db:"sent_count" json:"sent_count"`
	FailedCount     int `db:"failed_count" json:"failed_count"`
	SkippedCount    int `db:"skipped_count" json:"skipped_count"`
	// sends since the last batch pause
	BatchSentCount int `db:"batch_sent_count" json:"batch_sent_count"`

	Pacing PacingConfig `json:"pacing"`

	ScheduledAt *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	PausedAt    *time.Time `db:"paused_at" json:"paused_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Processed is the number of recipients that reached a terminal status.
func (c *Campaign) Processed() int {
	return c.SentCount + c.FailedCount + c.SkippedCount
}

// Remaining is the number of recipients still pending according to the counters.
func (c *Campaign) Remaining() int {
	return c.TotalRecipients - c.Processed()
}
