package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/broadcast-dispatcher/internal/errors"
	"github.com/unclebandit/broadcast-dispatcher/internal/model"
)

// AbandonedClaimError is recorded for a claim whose driver never reported back.
const AbandonedClaimError = "dispatch interrupted before outcome was recorded"

type RecipientRepositoryInterface interface {
	// ClaimNext marks the lowest-order pending recipient as claimed. It returns
	// (nil, nil) when no pending recipient is left, appErrors.ErrClaimInFlight
	// while another claim on the campaign is live, and *ErrCampaignNotRunning
	// when the campaign left the running state. Claims older than lease are
	// resolved as failed first.
	ClaimNext(ctx context.Context, campaignID int, now time.Time, lease time.Duration) (*model.Recipient, error)
	// RecordOutcome stores a terminal status once. A second call returns
	// appErrors.ErrRecipientAlreadyProcessed and changes nothing.
	RecordOutcome(ctx context.Context, recipientID int, o model.Outcome) error

	GetByID(ctx context.Context, id int) (*model.Recipient, error)
	ListByCampaign(ctx context.Context, campaignID, offset, limit int) ([]*model.Recipient, int, error)
	CountPending(ctx context.Context, campaignID int) (int, error)
	// CountAttemptsSince counts sent and failed outcomes recorded at or after since.
	CountAttemptsSince(ctx context.Context, campaignID int, since time.Time) (int, error)
}

type RecipientRepository struct {
	DB *sql.DB
}

const recipientColumns = `
    id, campaign_id, address, variables, status, processing_order,
    claimed_at, sent_at, COALESCE(error_message, ''), COALESCE(external_message_id, ''), created_at`

func scanRecipient(row rowScanner) (*model.Recipient, error) {
	var rcp model.Recipient
	var vars []byte
	err := row.Scan(
		&rcp.ID, &rcp.CampaignID, &rcp.Address, &vars, &rcp.Status, &rcp.ProcessingOrder,
		&rcp.ClaimedAt, &rcp.SentAt, &rcp.ErrorMessage, &rcp.ExternalMessageID, &rcp.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &rcp.Variables); err != nil {
			return nil, fmt.Errorf("failed to decode variables of recipient %d: %w", rcp.ID, err)
		}
	}
	return &rcp, nil
}

func (r *RecipientRepository) ClaimNext(ctx context.Context, campaignID int, now time.Time, lease time.Duration) (*model.Recipient, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// The campaign row lock serializes claims per campaign.
	var status model.CampaignStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id=$1 FOR UPDATE`, campaignID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(campaignID)
		}
		return nil, err
	}
	if status != model.CampaignStatusRunning {
		return nil, appErrors.NewCampaignNotRunning(campaignID, string(status))
	}

	var inflightID int
	var claimedAt time.Time
	err = tx.QueryRowContext(ctx, `
        SELECT id, claimed_at FROM campaign_recipients
        WHERE campaign_id=$1 AND status='pending' AND claimed_at IS NOT NULL
        ORDER BY processing_order LIMIT 1
    `, campaignID).Scan(&inflightID, &claimedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	case now.Sub(claimedAt) < lease:
		return nil, appErrors.ErrClaimInFlight
	default:
		log.WithFields(log.Fields{
			"campaign_id":  campaignID,
			"recipient_id": inflightID,
			"claimed_at":   claimedAt,
		}).Warn("resolving abandoned claim as failed")
		o := model.Outcome{Status: model.RecipientStatusFailed, ErrorMessage: AbandonedClaimError, At: now}
		if err := recordOutcomeTx(ctx, tx, inflightID, o); err != nil {
			return nil, err
		}
	}

	rcp, err := scanRecipient(tx.QueryRowContext(ctx, `
        SELECT `+recipientColumns+` FROM campaign_recipients
        WHERE campaign_id=$1 AND status='pending' AND claimed_at IS NULL
        ORDER BY processing_order LIMIT 1
        FOR UPDATE
    `, campaignID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// commit a possible abandoned-claim resolution
			return nil, tx.Commit()
		}
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE campaign_recipients SET claimed_at=$1, updated_at=NOW() WHERE id=$2`, now, rcp.ID); err != nil {
		return nil, fmt.Errorf("failed to claim recipient %d: %w", rcp.ID, err)
	}
	rcp.ClaimedAt = &now

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rcp, nil
}

func (r *RecipientRepository) RecordOutcome(ctx context.Context, recipientID int, o model.Outcome) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := recordOutcomeTx(ctx, tx, recipientID, o); err != nil {
		return err
	}
	return tx.Commit()
}

// recordOutcomeTx flips the recipient out of pending and bumps the campaign
// counters in the same transaction.
func recordOutcomeTx(ctx context.Context, tx *sql.Tx, recipientID int, o model.Outcome) error {
	if !o.Status.IsTerminal() {
		return fmt.Errorf("outcome status %q is not terminal", o.Status)
	}
	errMsg := sql.NullString{String: o.ErrorMessage, Valid: o.Status == model.RecipientStatusFailed}
	extID := sql.NullString{String: o.ExternalMessageID, Valid: o.ExternalMessageID != ""}

	var campaignID int
	err := tx.QueryRowContext(ctx, `
        UPDATE campaign_recipients
        SET status=$1, sent_at=$2, error_message=$3, external_message_id=$4, claimed_at=NULL, updated_at=NOW()
        WHERE id=$5 AND status='pending'
        RETURNING campaign_id
    `, o.Status, o.At, errMsg, extID, recipientID).Scan(&campaignID)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM campaign_recipients WHERE id=$1)`, recipientID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return appErrors.ErrRecipientNotFound
		}
		return appErrors.ErrRecipientAlreadyProcessed
	}
	if err != nil {
		return fmt.Errorf("failed to record outcome for recipient %d: %w", recipientID, err)
	}

	attempt := 0
	if o.CountsAttempt() {
		attempt = 1
	}
	_, err = tx.ExecContext(ctx, `
        UPDATE campaigns SET
            sent_count = sent_count + CASE WHEN $1 = 'sent' THEN 1 ELSE 0 END,
            failed_count = failed_count + CASE WHEN $1 = 'failed' THEN 1 ELSE 0 END,
            skipped_count = skipped_count + CASE WHEN $1 = 'skipped' THEN 1 ELSE 0 END,
            batch_sent_count = batch_sent_count + $2,
            updated_at = NOW()
        WHERE id=$3
    `, string(o.Status), attempt, campaignID)
	if err != nil {
		return fmt.Errorf("failed to update counters for campaign %d: %w", campaignID, err)
	}
	return nil
}

func (r *RecipientRepository) GetByID(ctx context.Context, id int) (*model.Recipient, error) {
	rcp, err := scanRecipient(r.DB.QueryRowContext(ctx, `SELECT `+recipientColumns+` FROM campaign_recipients WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrRecipientNotFound
		}
		return nil, err
	}
	return rcp, nil
}

func (r *RecipientRepository) ListByCampaign(ctx context.Context, campaignID, offset, limit int) ([]*model.Recipient, int, error) {
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id=$1`, campaignID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.DB.QueryContext(ctx, `
        SELECT `+recipientColumns+` FROM campaign_recipients
        WHERE campaign_id=$1 ORDER BY processing_order LIMIT $2 OFFSET $3
    `, campaignID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	recipients := []*model.Recipient{}
	for rows.Next() {
		rcp, err := scanRecipient(rows)
		if err != nil {
			return nil, 0, err
		}
		recipients = append(recipients, rcp)
	}
	return recipients, total, rows.Err()
}

func (r *RecipientRepository) CountPending(ctx context.Context, campaignID int) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id=$1 AND status='pending'`, campaignID).Scan(&n)
	return n, err
}

func (r *RecipientRepository) CountAttemptsSince(ctx context.Context, campaignID int, since time.Time) (int, error) {
	attempted := []string{string(model.RecipientStatusSent), string(model.RecipientStatusFailed)}
	var n int
	err := r.DB.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM campaign_recipients
        WHERE campaign_id=$1 AND status = ANY($2) AND sent_at >= $3
    `, campaignID, pq.Array(attempted), since).Scan(&n)
	return n, err
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
