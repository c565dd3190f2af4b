package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/broadcast-dispatcher/internal/errors"
	"github.com/unclebandit/broadcast-dispatcher/internal/model"
)

// MemoryStore keeps campaigns and recipients in process memory behind one
// mutex. It has the same claim and outcome semantics as the postgres
// repositories and backs STORE=memory and the tests.
type MemoryStore struct {
	Campaigns  *MemoryCampaignRepository
	Recipients *MemoryRecipientRepository
}

type memoryState struct {
	mu           sync.Mutex
	campaigns    map[int]*model.Campaign
	recipients   map[int]*model.Recipient
	byCampaign   map[int][]int // recipient ids in processing order
	nextCampaign int
	nextRecip    int
}

func NewMemoryStore() *MemoryStore {
	st := &memoryState{
		campaigns:  map[int]*model.Campaign{},
		recipients: map[int]*model.Recipient{},
		byCampaign: map[int][]int{},
	}
	return &MemoryStore{
		Campaigns:  &MemoryCampaignRepository{st: st},
		Recipients: &MemoryRecipientRepository{st: st},
	}
}

type MemoryCampaignRepository struct {
	st *memoryState
}

type MemoryRecipientRepository struct {
	st *memoryState
}

func copyCampaign(c *model.Campaign) *model.Campaign {
	cp := *c
	return &cp
}

func copyRecipient(r *model.Recipient) *model.Recipient {
	cp := *r
	if r.Variables != nil {
		cp.Variables = make(map[string]string, len(r.Variables))
		for k, v := range r.Variables {
			cp.Variables[k] = v
		}
	}
	return &cp
}

func ptr(t time.Time) *time.Time { return &t }

// ====================== Campaigns ======================

func (m *MemoryCampaignRepository) Create(ctx context.Context, c *model.Campaign, recipients []model.Recipient) error {
	st := m.st
	st.mu.Lock()
	defer st.mu.Unlock()

	st.nextCampaign++
	c.ID = st.nextCampaign
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignStatusDraft
	}
	c.TotalRecipients = len(recipients)
	st.campaigns[c.ID] = copyCampaign(c)

	ids := make([]int, 0, len(recipients))
	for i, rcp := range recipients {
		st.nextRecip++
		rcp.ID = st.nextRecip
		rcp.CampaignID = c.ID
		rcp.Status = model.RecipientStatusPending
		rcp.ProcessingOrder = i + 1
		rcp.CreatedAt = c.CreatedAt
		st.recipients[rcp.ID] = copyRecipient(&rcp)
		ids = append(ids, rcp.ID)
	}
	st.byCampaign[c.ID] = ids
	return nil
}

func (m *MemoryCampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()

	c, ok := m.st.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return copyCampaign(c), nil
}

func (m *MemoryCampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()

	var filtered []*model.Campaign
	for _, c := range m.st.campaigns {
		if channel != "" && c.Channel != channel {
			continue
		}
		if status != "" && string(c.Status) != status {
			continue
		}
		filtered = append(filtered, copyCampaign(c))
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID > filtered[j].ID })

	total := len(filtered)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []*model.Campaign{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return filtered[offset:end], total, nil
}

func (m *MemoryCampaignRepository) TransitionStatus(ctx context.Context, id int, from, to model.CampaignStatus, at time.Time) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()

	c, ok := m.st.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	if c.Status != from {
		return appErrors.ErrStaleStatus
	}

	switch to {
	case model.CampaignStatusRunning:
		if c.StartedAt == nil {
			c.StartedAt = ptr(at)
		}
		c.PausedAt = nil
	case model.CampaignStatusPaused:
		c.PausedAt = ptr(at)
	case model.CampaignStatusCompleted:
		c.CompletedAt = ptr(at)
	case model.CampaignStatusCancelled:
		c.CancelledAt = ptr(at)
	default:
		return appErrors.NewValidation("unsupported target status %s", to)
	}
	c.Status = to
	c.UpdatedAt = ptr(time.Now())
	return nil
}

func (m *MemoryCampaignRepository) Schedule(ctx context.Context, id int, from model.CampaignStatus, at time.Time) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()

	c, ok := m.st.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	if c.Status != from {
		return appErrors.ErrStaleStatus
	}
	c.Status = model.CampaignStatusScheduled
	c.ScheduledAt = ptr(at)
	c.UpdatedAt = ptr(time.Now())
	return nil
}

func (m *MemoryCampaignRepository) ResetBatchCounter(ctx context.Context, id int) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()

	if c, ok := m.st.campaigns[id]; ok {
		c.BatchSentCount = 0
	}
	return nil
}

func (m *MemoryCampaignRepository) ListDueScheduled(ctx context.Context, now time.Time) ([]int, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()

	var ids []int
	for id, c := range m.st.campaigns {
		if c.Status == model.CampaignStatusScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (m *MemoryCampaignRepository) ListIDsByStatus(ctx context.Context, status model.CampaignStatus) ([]int, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()

	var ids []int
	for id, c := range m.st.campaigns {
		if c.Status == status {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (m *MemoryCampaignRepository) GetCampaignStats(ctx context.Context, campaignID int) (map[string]int, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()

	stats := emptyStats()
	for _, id := range m.st.byCampaign[campaignID] {
		stats[string(m.st.recipients[id].Status)]++
		stats["total"]++
	}
	return stats, nil
}

// ====================== Recipients ======================

func (m *MemoryRecipientRepository) ClaimNext(ctx context.Context, campaignID int, now time.Time, lease time.Duration) (*model.Recipient, error) {
	st := m.st
	st.mu.Lock()
	defer st.mu.Unlock()

	c, ok := st.campaigns[campaignID]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(campaignID)
	}
	if c.Status != model.CampaignStatusRunning {
		return nil, appErrors.NewCampaignNotRunning(campaignID, string(c.Status))
	}

	var next *model.Recipient
	for _, id := range st.byCampaign[campaignID] {
		rcp := st.recipients[id]
		if rcp.Status != model.RecipientStatusPending {
			continue
		}
		if rcp.ClaimedAt != nil {
			if now.Sub(*rcp.ClaimedAt) < lease {
				return nil, appErrors.ErrClaimInFlight
			}
			log.WithFields(log.Fields{
				"campaign_id":  campaignID,
				"recipient_id": rcp.ID,
			}).Warn("resolving abandoned claim as failed")
			st.applyOutcome(rcp, model.Outcome{Status: model.RecipientStatusFailed, ErrorMessage: AbandonedClaimError, At: now})
			continue
		}
		next = rcp
		break
	}
	if next == nil {
		return nil, nil
	}

	next.ClaimedAt = ptr(now)
	return copyRecipient(next), nil
}

func (m *MemoryRecipientRepository) RecordOutcome(ctx context.Context, recipientID int, o model.Outcome) error {
	if !o.Status.IsTerminal() {
		return appErrors.NewValidation("outcome status %q is not terminal", o.Status)
	}
	m.st.mu.Lock()
	defer m.st.mu.Unlock()

	rcp, ok := m.st.recipients[recipientID]
	if !ok {
		return appErrors.ErrRecipientNotFound
	}
	if rcp.Status != model.RecipientStatusPending {
		return appErrors.ErrRecipientAlreadyProcessed
	}
	m.st.applyOutcome(rcp, o)
	return nil
}

// applyOutcome must be called with mu held.
func (st *memoryState) applyOutcome(rcp *model.Recipient, o model.Outcome) {
	rcp.Status = o.Status
	rcp.SentAt = ptr(o.At)
	rcp.ClaimedAt = nil
	rcp.ExternalMessageID = o.ExternalMessageID
	if o.Status == model.RecipientStatusFailed {
		rcp.ErrorMessage = o.ErrorMessage
	}

	c := st.campaigns[rcp.CampaignID]
	switch o.Status {
	case model.RecipientStatusSent:
		c.SentCount++
	case model.RecipientStatusFailed:
		c.FailedCount++
	case model.RecipientStatusSkipped:
		c.SkippedCount++
	}
	if o.CountsAttempt() {
		c.BatchSentCount++
	}
	c.UpdatedAt = ptr(time.Now())
}

func (m *MemoryRecipientRepository) GetByID(ctx context.Context, id int) (*model.Recipient, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()

	rcp, ok := m.st.recipients[id]
	if !ok {
		return nil, appErrors.ErrRecipientNotFound
	}
	return copyRecipient(rcp), nil
}

func (m *MemoryRecipientRepository) ListByCampaign(ctx context.Context, campaignID, offset, limit int) ([]*model.Recipient, int, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()

	ids := m.st.byCampaign[campaignID]
	total := len(ids)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []*model.Recipient{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := make([]*model.Recipient, 0, end-offset)
	for _, id := range ids[offset:end] {
		out = append(out, copyRecipient(m.st.recipients[id]))
	}
	return out, total, nil
}

func (m *MemoryRecipientRepository) CountPending(ctx context.Context, campaignID int) (int, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()

	n := 0
	for _, id := range m.st.byCampaign[campaignID] {
		if m.st.recipients[id].Status == model.RecipientStatusPending {
			n++
		}
	}
	return n, nil
}

func (m *MemoryRecipientRepository) CountAttemptsSince(ctx context.Context, campaignID int, since time.Time) (int, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()

	n := 0
	for _, id := range m.st.byCampaign[campaignID] {
		rcp := m.st.recipients[id]
		if (rcp.Status == model.RecipientStatusSent || rcp.Status == model.RecipientStatusFailed) &&
			rcp.SentAt != nil && !rcp.SentAt.Before(since) {
			n++
		}
	}
	return n, nil
}

var (
	_ CampaignRepositoryInterface  = (*MemoryCampaignRepository)(nil)
	_ RecipientRepositoryInterface = (*MemoryRecipientRepository)(nil)
)
