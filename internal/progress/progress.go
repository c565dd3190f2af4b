// Package progress broadcasts campaign progress after each dispatch step.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/unclebandit/broadcast-dispatcher/internal/config"
	"github.com/unclebandit/broadcast-dispatcher/internal/model"
)

const SnapshotTTL = 24 * time.Hour

type Snapshot struct {
	CampaignID      int                   `json:"campaign_id"`
	Status          model.CampaignStatus  `json:"status"`
	Total           int                   `json:"total"`
	Sent            int                   `json:"sent"`
	Failed          int                   `json:"failed"`
	Skipped         int                   `json:"skipped"`
	Pending         int                   `json:"pending"`
	LastRecipientID int                   `json:"last_recipient_id,omitempty"`
	LastStatus      model.RecipientStatus `json:"last_status,omitempty"`
	NextDecision    *model.Decision       `json:"next_decision,omitempty"`
	At              time.Time             `json:"at"`
}

// NewSnapshot builds a snapshot from the campaign counters. The step result
// is optional and fills the last-outcome fields.
func NewSnapshot(c *model.Campaign, step *model.StepResult, at time.Time) Snapshot {
	s := Snapshot{
		CampaignID: c.ID,
		Status:     c.Status,
		Total:      c.TotalRecipients,
		Sent:       c.SentCount,
		Failed:     c.FailedCount,
		Skipped:    c.SkippedCount,
		Pending:    c.Remaining(),
		At:         at,
	}
	if step != nil {
		s.LastRecipientID = step.RecipientID
		s.LastStatus = step.Status
		d := step.NextDecision
		s.NextDecision = &d
	}
	return s
}

func Key(campaignID int) string {
	return fmt.Sprintf("campaign:progress:%d", campaignID)
}

type Publisher interface {
	Publish(ctx context.Context, s Snapshot) error
}

// Reader is implemented by publishers that keep the latest snapshot.
type Reader interface {
	Latest(ctx context.Context, campaignID int) (*Snapshot, error)
}

var (
	_ Publisher = Noop{}
	_ Publisher = (*RedisPublisher)(nil)
	_ Reader    = (*RedisPublisher)(nil)
)

// Noop discards snapshots.
type Noop struct{}

func (Noop) Publish(context.Context, Snapshot) error { return nil }

// RedisPublisher publishes each snapshot on the campaign's channel and keeps
// the latest one under the same key.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(cfg config.RedisConfig) *RedisPublisher {
	return &RedisPublisher{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

func (r *RedisPublisher) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisPublisher) Publish(ctx context.Context, s Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	key := Key(s.CampaignID)

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, payload, SnapshotTTL)
	pipe.Publish(ctx, key, payload)
	_, err = pipe.Exec(ctx)
	return err
}

// Latest returns the last stored snapshot, or nil when none is stored.
func (r *RedisPublisher) Latest(ctx context.Context, campaignID int) (*Snapshot, error) {
	raw, err := r.client.Get(ctx, Key(campaignID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RedisPublisher) Close() error {
	return r.client.Close()
}
