package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"leadgen-platform/internal/metrics"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Queue for tests and local runs. Its mutex
// stands in for the row locks PostgresQueue relies on.
type MemoryQueue struct {
	mu        sync.Mutex
	items     map[string]*Item
	seq       map[string]int
	next      int
	campaigns map[string]CampaignState
	clock     func() time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		items:     map[string]*Item{},
		seq:       map[string]int{},
		campaigns: map[string]CampaignState{},
		clock:     time.Now,
	}
}

var _ Queue = (*MemoryQueue)(nil)

// SetClock replaces the time source.
func (m *MemoryQueue) SetClock(fn func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = fn
}

// SetCampaign registers or updates the campaign state items are claimed against.
func (m *MemoryQueue) SetCampaign(campaignID string, st CampaignState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[campaignID] = st
}

// RemoveCampaign deletes a campaign and all of its items.
func (m *MemoryQueue) RemoveCampaign(campaignID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.campaigns, campaignID)
	for id, it := range m.items {
		if it.CampaignID == campaignID {
			delete(m.items, id)
			delete(m.seq, id)
		}
	}
}

func (m *MemoryQueue) Enqueue(_ context.Context, campaignID, userID string, leads []Lead) (int, error) {
	leads, err := normalizeLeads(leads)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.campaigns[campaignID]
	if !ok || c.UserID != userID {
		return 0, ErrNotFound
	}

	now := m.clock().UTC()
	for _, l := range leads {
		due := now
		it := &Item{
			QueueID:          uuid.NewString(),
			CampaignID:       campaignID,
			UserID:           userID,
			LeadPhoneNumber:  l.Phone,
			LeadName:         l.Name,
			LeadID:           l.ID,
			Status:           StatusPending,
			NextAttemptAfter: &due,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		m.items[it.QueueID] = it
		m.seq[it.QueueID] = m.next
		m.next++
	}
	return len(leads), nil
}

func (m *MemoryQueue) claimable(it *Item, now time.Time) bool {
	c, ok := m.campaigns[it.CampaignID]
	if !ok || !c.Active || !c.Window.Contains(now) {
		return false
	}
	switch it.Status {
	case StatusPending:
	case StatusFailed, StatusNoAnswer:
		if policyWithDefaults(c.Policy).Exhausted(it.AttemptCount) {
			return false
		}
	default:
		return false
	}
	return it.NextAttemptAfter != nil && !it.NextAttemptAfter.After(now)
}

func (m *MemoryQueue) ClaimBatch(_ context.Context, workerID string, limit int) ([]Item, error) {
	limit, err := checkLimit(limit)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock().UTC()
	var due []*Item
	for _, it := range m.items {
		if m.claimable(it, now) {
			due = append(due, it)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if !a.NextAttemptAfter.Equal(*b.NextAttemptAfter) {
			return a.NextAttemptAfter.Before(*b.NextAttemptAfter)
		}
		return m.seq[a.QueueID] < m.seq[b.QueueID]
	})
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]Item, 0, len(due))
	for _, it := range due {
		claimedAt := now
		it.Status = StatusProcessing
		it.ClaimedAt = &claimedAt
		it.ClaimedBy = workerID
		it.UpdatedAt = now
		out = append(out, m.withScript(*it))
	}
	metrics.DispatchClaimed.Add(float64(len(out)))
	return out, nil
}

func (m *MemoryQueue) withScript(it Item) Item {
	it.ScriptRef = m.campaigns[it.CampaignID].ScriptRef
	return it
}

func (m *MemoryQueue) ReportOutcome(_ context.Context, queueID string, r Report) (Item, error) {
	if !r.Status.Reportable() {
		return Item{}, fmt.Errorf("%w: cannot report status %q", ErrInvalidArgument, r.Status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[queueID]
	if !ok {
		return Item{}, ErrNotFound
	}
	next, err := applyOutcome(*it, r, m.campaigns[it.CampaignID].Policy, m.clock().UTC())
	if err != nil {
		return Item{}, err
	}
	*it = next
	metrics.DispatchOutcomes.WithLabelValues(string(next.Status)).Inc()
	return m.withScript(next), nil
}

func (m *MemoryQueue) AttachCallSID(_ context.Context, queueID, callSID string) error {
	if callSID == "" {
		return fmt.Errorf("%w: call sid required", ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[queueID]
	if !ok {
		return ErrNotFound
	}
	if it.Status != StatusProcessing {
		return ErrNotProcessing
	}
	it.CallSID = callSID
	it.UpdatedAt = m.clock().UTC()
	return nil
}

func (m *MemoryQueue) Defer(_ context.Context, queueID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[queueID]
	if !ok {
		return ErrNotFound
	}
	if it.Status != StatusProcessing {
		return ErrNotProcessing
	}
	due := until.UTC()
	it.Status = StatusPending
	it.NextAttemptAfter = &due
	it.ClaimedAt = nil
	it.ClaimedBy = ""
	it.UpdatedAt = m.clock().UTC()
	return nil
}

func (m *MemoryQueue) ReapStale(_ context.Context, cutoff time.Time) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock().UTC()
	var reaped []Item
	for _, it := range m.items {
		if it.Status != StatusProcessing || it.ClaimedAt == nil || !it.ClaimedAt.Before(cutoff) {
			continue
		}
		next, err := applyOutcome(*it, Report{Status: StatusFailed, Outcome: OutcomeLeaseExpired}, m.campaigns[it.CampaignID].Policy, now)
		if err != nil {
			return nil, err
		}
		*it = next
		metrics.DispatchOutcomes.WithLabelValues(string(next.Status)).Inc()
		reaped = append(reaped, m.withScript(next))
	}
	return reaped, nil
}

func (m *MemoryQueue) MarkDoNotCall(_ context.Context, queueID string) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[queueID]
	if !ok {
		return Item{}, ErrNotFound
	}
	if it.Status.Terminal() {
		return Item{}, ErrTerminal
	}
	it.Status = StatusDoNotCall
	it.NextAttemptAfter = nil
	it.UpdatedAt = m.clock().UTC()
	metrics.DispatchOutcomes.WithLabelValues(string(StatusDoNotCall)).Inc()
	return m.withScript(*it), nil
}

func (m *MemoryQueue) Get(_ context.Context, queueID string) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[queueID]
	if !ok {
		return Item{}, ErrNotFound
	}
	return m.withScript(*it), nil
}

func (m *MemoryQueue) FindByCallSID(_ context.Context, callSID string) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found *Item
	for _, it := range m.items {
		if callSID != "" && it.CallSID == callSID {
			if found == nil || it.UpdatedAt.After(found.UpdatedAt) {
				found = it
			}
		}
	}
	if found == nil {
		return Item{}, ErrNotFound
	}
	return m.withScript(*found), nil
}

func (m *MemoryQueue) List(_ context.Context, campaignID string, f ListFilter) ([]Item, error) {
	f = f.normalized()
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidArgument, f.Status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*Item
	for _, it := range m.items {
		if it.CampaignID != campaignID {
			continue
		}
		if f.Status != "" && it.Status != f.Status {
			continue
		}
		matched = append(matched, it)
	}
	sort.Slice(matched, func(i, j int) bool {
		return m.seq[matched[i].QueueID] < m.seq[matched[j].QueueID]
	})

	out := []Item{}
	for i := f.Offset; i < len(matched) && len(out) < f.Limit; i++ {
		out = append(out, m.withScript(*matched[i]))
	}
	return out, nil
}

func (m *MemoryQueue) CountByStatus(_ context.Context, campaignID string) (StatusCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := StatusCounts{}
	for _, it := range m.items {
		if it.CampaignID == campaignID {
			out[it.Status]++
		}
	}
	return out, nil
}
