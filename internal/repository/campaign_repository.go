package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/broadcast-dispatcher/internal/errors"
	"github.com/unclebandit/broadcast-dispatcher/internal/model"
)

type CampaignRepositoryInterface interface {
	// Create inserts the campaign and its recipients in one transaction.
	// Recipients get processing_order 1..n in slice order.
	Create(ctx context.Context, c *model.Campaign, recipients []model.Recipient) error
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, channel, status string) ([]*model.Campaign, int, error)

	// TransitionStatus is a compare-and-set on status. It fails with
	// appErrors.ErrStaleStatus when the row is no longer in `from`.
	TransitionStatus(ctx context.Context, id int, from, to model.CampaignStatus, at time.Time) error
	Schedule(ctx context.Context, id int, from model.CampaignStatus, at time.Time) error
	ResetBatchCounter(ctx context.Context, id int) error

	ListDueScheduled(ctx context.Context, now time.Time) ([]int, error)
	ListIDsByStatus(ctx context.Context, status model.CampaignStatus) ([]int, error)
	GetCampaignStats(ctx context.Context, campaignID int) (map[string]int, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `
    id, name, channel, channel_instance_id, status, message_template,
    total_recipients, sent_count, failed_count, skipped_count, batch_sent_count,
    min_delay_seconds, max_delay_seconds, daily_limit, batch_size, batch_pause_minutes, use_business_hours,
    scheduled_at, started_at, paused_at, completed_at, cancelled_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID, &c.Name, &c.Channel, &c.ChannelInstanceID, &c.Status, &c.MessageTemplate,
		&c.TotalRecipients, &c.SentCount, &c.FailedCount, &c.SkippedCount, &c.BatchSentCount,
		&c.Pacing.MinDelaySeconds, &c.Pacing.MaxDelaySeconds, &c.Pacing.DailyLimit,
		&c.Pacing.BatchSize, &c.Pacing.BatchPauseMinutes, &c.Pacing.UseBusinessHours,
		&c.ScheduledAt, &c.StartedAt, &c.PausedAt, &c.CompletedAt, &c.CancelledAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign, recipients []model.Recipient) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignStatusDraft
	}
	c.TotalRecipients = len(recipients)

	query := `
        INSERT INTO campaigns (
            name, channel, channel_instance_id, status, message_template, total_recipients,
            min_delay_seconds, max_delay_seconds, daily_limit, batch_size, batch_pause_minutes, use_business_hours,
            scheduled_at, created_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
        RETURNING id
    `
	p := c.Pacing
	err = tx.QueryRowContext(ctx, query,
		c.Name, c.Channel, c.ChannelInstanceID, c.Status, c.MessageTemplate, c.TotalRecipients,
		p.MinDelaySeconds, p.MaxDelaySeconds, p.DailyLimit, p.BatchSize, p.BatchPauseMinutes, p.UseBusinessHours,
		c.ScheduledAt, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("failed to insert campaign: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO campaign_recipients (campaign_id, address, variables, status, processing_order, created_at)
        VALUES ($1, $2, $3, 'pending', $4, $5)
    `)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, rcp := range recipients {
		vars, err := json.Marshal(rcp.Variables)
		if err != nil {
			return fmt.Errorf("failed to encode variables for recipient %d: %w", i+1, err)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, rcp.Address, vars, i+1, c.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert recipient %d: %w", i+1, err)
		}
	}

	return tx.Commit()
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	where := ` WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if channel != "" {
		where += fmt.Sprintf(" AND channel=$%d", argPos)
		args = append(args, channel)
		argPos++
	}
	if status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, total, rows.Err()
}

// ====================== Status ======================

func (r *CampaignRepository) TransitionStatus(ctx context.Context, id int, from, to model.CampaignStatus, at time.Time) error {
	var set string
	switch to {
	case model.CampaignStatusRunning:
		set = "started_at=COALESCE(started_at, $4), paused_at=NULL"
	case model.CampaignStatusPaused:
		set = "paused_at=$4"
	case model.CampaignStatusCompleted:
		set = "completed_at=$4"
	case model.CampaignStatusCancelled:
		set = "cancelled_at=$4"
	default:
		return fmt.Errorf("unsupported target status %s", to)
	}

	query := `UPDATE campaigns SET status=$1, ` + set + `, updated_at=NOW() WHERE id=$2 AND status=$3`
	res, err := r.DB.ExecContext(ctx, query, to, id, from, at)
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}
	return r.checkCAS(ctx, res, id)
}

func (r *CampaignRepository) Schedule(ctx context.Context, id int, from model.CampaignStatus, at time.Time) error {
	query := `UPDATE campaigns SET status='scheduled', scheduled_at=$1, updated_at=NOW() WHERE id=$2 AND status=$3`
	res, err := r.DB.ExecContext(ctx, query, at, id, from)
	if err != nil {
		return fmt.Errorf("failed to schedule campaign: %w", err)
	}
	return r.checkCAS(ctx, res, id)
}

func (r *CampaignRepository) checkCAS(ctx context.Context, res sql.Result, id int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	// tell "gone" apart from "lost the race"
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return appErrors.ErrStaleStatus
}

func (r *CampaignRepository) ResetBatchCounter(ctx context.Context, id int) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE campaigns SET batch_sent_count=0 WHERE id=$1`, id)
	return err
}

func (r *CampaignRepository) ListDueScheduled(ctx context.Context, now time.Time) ([]int, error) {
	return r.listIDs(ctx, `SELECT id FROM campaigns WHERE status='scheduled' AND scheduled_at <= $1 ORDER BY scheduled_at`, now)
}

func (r *CampaignRepository) ListIDsByStatus(ctx context.Context, status model.CampaignStatus) ([]int, error) {
	return r.listIDs(ctx, `SELECT id FROM campaigns WHERE status=$1 ORDER BY id`, status)
}

func (r *CampaignRepository) listIDs(ctx context.Context, query string, args ...any) ([]int, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetCampaignStats recomputes recipient counts from the recipient rows.
func (r *CampaignRepository) GetCampaignStats(ctx context.Context, campaignID int) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM campaign_recipients WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := emptyStats()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
		stats["total"] += count
	}
	return stats, rows.Err()
}

func emptyStats() map[string]int {
	return map[string]int{"total": 0, "pending": 0, "sent": 0, "failed": 0, "skipped": 0}
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
