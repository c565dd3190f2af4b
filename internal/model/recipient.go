package model

import "time"

type RecipientStatus string

const (
	RecipientStatusPending RecipientStatus = "pending"
	RecipientStatusSent    RecipientStatus = "sent"
	RecipientStatusFailed  RecipientStatus = "failed"
	RecipientStatusSkipped RecipientStatus = "skipped"
)

func (s RecipientStatus) IsTerminal() bool {
	return s == RecipientStatusSent || s == RecipientStatusFailed || s == RecipientStatusSkipped
}

// Recipient is one destination of a campaign. Rows are owned by their campaign
// and deleted with it.
type Recipient struct {
	ID                int               `db:"id" json:"id"`
	CampaignID        int               `db:"campaign_id" json:"campaign_id"`
	Address           string            `db:"address" json:"address"`
	Variables         map[string]string `db:"variables" json:"variables,omitempty"`
	Status            RecipientStatus   `db:"status" json:"status"`
	ProcessingOrder   int               `db:"processing_order" json:"processing_order"`
	ClaimedAt         *time.Time        `db:"claimed_at" json:"claimed_at,omitempty"`
	SentAt            *time.Time        `db:"sent_at" json:"sent_at,omitempty"`
	ErrorMessage      string            `db:"error_message" json:"error_message,omitempty"`
	ExternalMessageID string            `db:"external_message_id" json:"external_message_id,omitempty"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
}

// Outcome is the terminal result recorded for a claimed recipient.
type Outcome struct {
	Status            RecipientStatus
	ErrorMessage      string
	ExternalMessageID string
	At                time.Time
}

// CountsAttempt reports whether the outcome consumed a real send attempt.
// Skips never reach the channel and are not paced.
func (o Outcome) CountsAttempt() bool {
	return o.Status == RecipientStatusSent || o.Status == RecipientStatusFailed
}
