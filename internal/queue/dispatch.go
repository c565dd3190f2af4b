package queue

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// DispatchJob asks a worker to drive one campaign.
type DispatchJob struct {
	CampaignID int `json:"campaign_id"`
}

func EncodeDispatchJob(campaignID int) []byte {
	b, _ := json.Marshal(DispatchJob{CampaignID: campaignID})
	return b
}

func DecodeDispatchJob(payload []byte) (DispatchJob, error) {
	var job DispatchJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return job, fmt.Errorf("invalid dispatch job: %w", err)
	}
	if job.CampaignID <= 0 {
		return job, fmt.Errorf("invalid dispatch job: campaign_id %d", job.CampaignID)
	}
	return job, nil
}

// Dispatcher accepts campaigns to drive.
type Dispatcher interface {
	Submit(campaignID int) error
}

// PublishDispatch enqueues a dispatch job for campaignID on topic.
func PublishDispatch(ctx context.Context, q Queue, topic string, campaignID int) error {
	return q.Publish(ctx, topic, EncodeDispatchJob(campaignID))
}

// StartDispatchSubscriber feeds dispatch jobs from topic into d.
// Malformed jobs are dropped; a Submit error is retried by the queue.
func StartDispatchSubscriber(q Queue, topic string, d Dispatcher) error {
	err := q.Subscribe(topic, func(_ context.Context, payload []byte) error {
		job, err := DecodeDispatchJob(payload)
		if err != nil {
			log.WithError(err).Warn("⚠️ Dropping dispatch job")
			return nil
		}

		log.WithField("campaign_id", job.CampaignID).Info("📩 Dispatch job received")
		return d.Submit(job.CampaignID)
	})
	if err != nil {
		return fmt.Errorf("failed to start subscriber for %s: %w", topic, err)
	}
	return nil
}
