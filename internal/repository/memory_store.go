package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"leadgen-outreach-go/internal/model"
)

// MemoryStore keeps outreach state in process memory. It serves local development and tests;
// a single mutex gives the same exclusivity the SQL store gets from row locks.
type MemoryStore struct {
	mu       sync.Mutex
	messages map[string]*model.OutreachMessage
	tails    map[string]*time.Time
	optOuts  map[string]model.OptOutEntry // "type:value" -> entry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]*model.OutreachMessage),
		tails:    make(map[string]*time.Time),
		optOuts:  make(map[string]model.OptOutEntry),
	}
}

// AppendScheduled plans and inserts msg while holding the store lock
func (s *MemoryStore) AppendScheduled(ctx context.Context, queue string, msg *model.OutreachMessage, plan PlanFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.tails[queue]
	if !ok {
		last = s.latestScheduledLocked()
	}
	at, err := plan(last)
	if err != nil {
		return err
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if _, exists := s.messages[msg.ID]; exists {
		return fmt.Errorf("failed to insert outreach message: duplicate id %s", msg.ID)
	}
	now := time.Now()
	msg.Status = model.StatusScheduled
	msg.ScheduledFor = &at
	msg.CreatedAt = now
	msg.UpdatedAt = now
	s.messages[msg.ID] = msg.Clone()

	tail := at
	s.tails[queue] = &tail
	return nil
}

func (s *MemoryStore) latestScheduledLocked() *time.Time {
	var latest *time.Time
	for _, m := range s.messages {
		if m.ScheduledFor == nil {
			continue
		}
		if m.Status != model.StatusScheduled && m.Status != model.StatusSending {
			continue
		}
		if latest == nil || m.ScheduledFor.After(*latest) {
			t := *m.ScheduledFor
			latest = &t
		}
	}
	return latest
}

// ClaimDue claims due messages in scheduled_for order
func (s *MemoryStore) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*model.OutreachMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*model.OutreachMessage
	for _, m := range s.messages {
		if isDue(m, now, lease) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledFor.Before(*due[j].ScheduledFor)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	token := uuid.NewString()
	claimed := make([]*model.OutreachMessage, 0, len(due))
	for _, m := range due {
		claimedAt := now
		tok := token
		m.Status = model.StatusSending
		m.ClaimToken = &tok
		m.ClaimedAt = &claimedAt
		m.UpdatedAt = time.Now()
		claimed = append(claimed, m.Clone())
	}
	return claimed, nil
}

func isDue(m *model.OutreachMessage, now time.Time, lease time.Duration) bool {
	switch m.Status {
	case model.StatusScheduled:
		return m.ScheduledFor != nil && !m.ScheduledFor.After(now)
	case model.StatusSending:
		return m.ClaimedAt != nil && !m.ClaimedAt.After(now.Add(-lease))
	}
	return false
}

// ClaimByID claims one message for operator redelivery
func (s *MemoryStore) ClaimByID(ctx context.Context, id string, now time.Time) (*model.OutreachMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := redeliverable(m.Status); err != nil {
		return nil, err
	}
	previous := m.Status
	token := uuid.NewString()
	claimedAt := now
	m.Status = model.StatusSending
	m.ClaimToken = &token
	m.ClaimedAt = &claimedAt
	m.UpdatedAt = time.Now()
	claimed := m.Clone()
	claimed.ClaimedFrom = previous
	return claimed, nil
}

// MergeMetadata merges patch under the message's claim token
func (s *MemoryStore) MergeMetadata(ctx context.Context, msg *model.OutreachMessage, patch model.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.claimedLocked(msg)
	if err != nil {
		return err
	}
	m.Metadata = m.Metadata.Merge(patch.Clone())
	m.UpdatedAt = time.Now()
	msg.Metadata = m.Metadata.Clone()
	return nil
}

// UpdateContent writes operator overrides under the message's claim token
func (s *MemoryStore) UpdateContent(ctx context.Context, msg *model.OutreachMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.claimedLocked(msg)
	if err != nil {
		return err
	}
	m.CompanyID = msg.CompanyID
	m.ContactID = cloneContact(msg.ContactID)
	m.Subject = msg.Subject
	m.Body = msg.Body
	m.UpdatedAt = time.Now()
	return nil
}

func cloneContact(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Finish records the terminal outcome under the message's claim token
func (s *MemoryStore) Finish(ctx context.Context, msg *model.OutreachMessage, outcome model.Outcome) error {
	if !terminalOutcomeOK(outcome) {
		return fmt.Errorf("outcome status %s is not terminal", outcome.Status)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.claimedLocked(msg)
	if err != nil {
		return err
	}
	merged := m.Metadata.Merge(outcome.Metadata.Clone())
	applyOutcome(m, outcome, merged)
	m.UpdatedAt = time.Now()
	applyOutcome(msg, outcome, merged)
	return nil
}

// Release restores a redelivery claim to its previous status under the claim token
func (s *MemoryStore) Release(ctx context.Context, msg *model.OutreachMessage) error {
	status, err := releaseStatus(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.claimedLocked(msg)
	if err != nil {
		return err
	}
	m.Status = status
	m.ClaimToken = nil
	m.UpdatedAt = time.Now()
	msg.Status = status
	msg.ClaimToken = nil
	return nil
}

func (s *MemoryStore) claimedLocked(msg *model.OutreachMessage) (*model.OutreachMessage, error) {
	m, ok := s.messages[msg.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if msg.ClaimToken == nil || m.Status != model.StatusSending || m.ClaimToken == nil || *m.ClaimToken != *msg.ClaimToken {
		return nil, ErrClaimLost
	}
	return m, nil
}

// Get returns a copy of a message by id
func (s *MemoryStore) Get(ctx context.Context, id string) (*model.OutreachMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.Clone(), nil
}

// List returns messages newest first with the total count for the filter
func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]model.OutreachMessage, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []model.OutreachMessage
	for _, m := range s.messages {
		if filter.Status != "" && m.Status != filter.Status {
			continue
		}
		if filter.CompanyID != "" && m.CompanyID != filter.CompanyID {
			continue
		}
		matched = append(matched, *m.Clone())
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if filter.Offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

// CountByStatus returns message counts grouped by status
func (s *MemoryStore) CountByStatus(ctx context.Context) (map[model.OutreachStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[model.OutreachStatus]int64)
	for _, m := range s.messages {
		out[m.Status]++
	}
	return out, nil
}

// IsOptedOut checks the registry for the address, its domain or the company
func (s *MemoryStore) IsOptedOut(ctx context.Context, address, companyID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for typ, value := range optOutKeys(address, companyID) {
		if _, ok := s.optOuts[typ+":"+value]; ok {
			return true, nil
		}
	}
	return false, nil
}

// AddOptOut inserts an entry, ignoring duplicates
func (s *MemoryStore) AddOptOut(ctx context.Context, entry *model.OptOutEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ContactValue = strings.ToLower(strings.TrimSpace(entry.ContactValue))
	if entry.ContactType == "" {
		entry.ContactType = model.ContactTypeEmail
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	key := entry.ContactType + ":" + entry.ContactValue
	if _, ok := s.optOuts[key]; !ok {
		s.optOuts[key] = *entry
	}
	return nil
}

// Put stores a copy of msg as-is. Tests use it to seed arbitrary states.
func (s *MemoryStore) Put(msg *model.OutreachMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ID] = msg.Clone()
}
