package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"leadgen-outreach-go/internal/model"
)

// GormStore implements OutreachStore and OptOutRegistry on PostgreSQL or MySQL
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store on an initialized connection
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AppendScheduled locks the queue tail row, plans the send time and inserts msg in one transaction.
func (s *GormStore) AppendScheduled(ctx context.Context, queue string, msg *model.OutreachMessage, plan PlanFunc) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tail := model.ScheduleTail{Queue: queue}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&tail).Error; err != nil {
			return fmt.Errorf("failed to ensure schedule tail: %w", err)
		}
		if err := tailQuery(tx, queue).First(&tail).Error; err != nil {
			return fmt.Errorf("failed to lock schedule tail: %w", err)
		}

		last := tail.LastScheduledFor
		if last == nil {
			seed, err := latestScheduled(tx)
			if err != nil {
				return err
			}
			last = seed
		}

		at, err := plan(last)
		if err != nil {
			return err
		}

		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		msg.Status = model.StatusScheduled
		msg.ScheduledFor = &at
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("failed to insert outreach message: %w", err)
		}

		if err := tx.Model(&model.ScheduleTail{}).
			Where("queue = ?", queue).
			Update("last_scheduled_for", at).Error; err != nil {
			return fmt.Errorf("failed to advance schedule tail: %w", err)
		}
		return nil
	})
}

func tailQuery(tx *gorm.DB, queue string) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("queue = ?", queue)
}

func latestScheduled(tx *gorm.DB) (*time.Time, error) {
	var latest model.OutreachMessage
	err := tx.Select("scheduled_for").
		Where("status IN ? AND scheduled_for IS NOT NULL", []model.OutreachStatus{model.StatusScheduled, model.StatusSending}).
		Order("scheduled_for DESC").
		Take(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest scheduled message: %w", err)
	}
	return latest.ScheduledFor, nil
}

// ClaimDue selects due rows with FOR UPDATE SKIP LOCKED and marks them sending under a fresh claim token.
func (s *GormStore) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*model.OutreachMessage, error) {
	var claimed []*model.OutreachMessage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := dueQuery(tx, now, lease, limit).Find(&claimed).Error; err != nil {
			return fmt.Errorf("failed to select due messages: %w", err)
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]string, len(claimed))
		for i, m := range claimed {
			ids[i] = m.ID
		}
		token := uuid.NewString()
		if err := tx.Model(&model.OutreachMessage{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":      model.StatusSending,
				"claim_token": token,
				"claimed_at":  now,
			}).Error; err != nil {
			return fmt.Errorf("failed to claim due messages: %w", err)
		}
		for _, m := range claimed {
			m.Status = model.StatusSending
			m.ClaimToken = &token
			claimedAt := now
			m.ClaimedAt = &claimedAt
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func dueQuery(tx *gorm.DB, now time.Time, lease time.Duration, limit int) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("(status = ? AND scheduled_for <= ?) OR (status = ? AND claimed_at <= ?)",
			model.StatusScheduled, now, model.StatusSending, now.Add(-lease)).
		Order("scheduled_for ASC").
		Limit(limit)
}

// ClaimByID claims one message for operator redelivery
func (s *GormStore) ClaimByID(ctx context.Context, id string, now time.Time) (*model.OutreachMessage, error) {
	var msg model.OutreachMessage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("id = ?", id).
			Take(&msg).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			var count int64
			if err := tx.Model(&model.OutreachMessage{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return fmt.Errorf("failed to look up outreach message: %w", err)
			}
			if count > 0 {
				return ErrClaimConflict
			}
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock outreach message: %w", err)
		}
		if err := redeliverable(msg.Status); err != nil {
			return err
		}
		msg.ClaimedFrom = msg.Status

		token := uuid.NewString()
		if err := tx.Model(&model.OutreachMessage{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":      model.StatusSending,
				"claim_token": token,
				"claimed_at":  now,
			}).Error; err != nil {
			return fmt.Errorf("failed to claim outreach message: %w", err)
		}
		msg.Status = model.StatusSending
		msg.ClaimToken = &token
		msg.ClaimedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func redeliverable(status model.OutreachStatus) error {
	switch status {
	case model.StatusScheduled, model.StatusFailed, model.StatusSkipped:
		return nil
	case model.StatusSent:
		return ErrAlreadySent
	case model.StatusSending:
		return ErrClaimConflict
	default:
		return fmt.Errorf("outreach message in status %s cannot be delivered", status)
	}
}

// MergeMetadata merges patch under the message's claim token
func (s *GormStore) MergeMetadata(ctx context.Context, msg *model.OutreachMessage, patch model.Metadata) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := lockClaimed(tx, msg)
		if err != nil {
			return err
		}
		merged := current.Metadata.Merge(patch)
		if err := fenced(tx, msg).Update("metadata", merged).Error; err != nil {
			return fmt.Errorf("failed to merge metadata: %w", err)
		}
		msg.Metadata = merged.Clone()
		return nil
	})
}

// UpdateContent writes operator overrides under the message's claim token
func (s *GormStore) UpdateContent(ctx context.Context, msg *model.OutreachMessage) error {
	if msg.ClaimToken == nil {
		return ErrClaimLost
	}
	res := fenced(s.db.WithContext(ctx), msg).Updates(map[string]any{
		"company_id": msg.CompanyID,
		"contact_id": msg.ContactID,
		"subject":    msg.Subject,
		"body":       msg.Body,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update outreach content: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrClaimLost
	}
	return nil
}

// Finish writes the terminal outcome under the message's claim token
func (s *GormStore) Finish(ctx context.Context, msg *model.OutreachMessage, outcome model.Outcome) error {
	if !terminalOutcomeOK(outcome) {
		return fmt.Errorf("outcome status %s is not terminal", outcome.Status)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := lockClaimed(tx, msg)
		if err != nil {
			return err
		}
		merged := current.Metadata.Merge(outcome.Metadata)

		updates := map[string]any{
			"status":          outcome.Status,
			"metadata":        merged,
			"claim_token":     nil,
			"delivery_status": nullable(outcome.DeliveryStatus),
			"last_error":      nullable(outcome.LastError),
		}
		if outcome.SentAt != nil {
			updates["sent_at"] = *outcome.SentAt
		}
		if err := fenced(tx, msg).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to record outcome: %w", err)
		}

		applyOutcome(msg, outcome, merged)
		return nil
	})
}

// Release restores a redelivery claim to its previous status under the claim token
func (s *GormStore) Release(ctx context.Context, msg *model.OutreachMessage) error {
	status, err := releaseStatus(msg)
	if err != nil {
		return err
	}
	res := fenced(s.db.WithContext(ctx), msg).Updates(map[string]any{
		"status":      status,
		"claim_token": nil,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to release claim: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrClaimLost
	}
	msg.Status = status
	msg.ClaimToken = nil
	return nil
}

func lockClaimed(tx *gorm.DB, msg *model.OutreachMessage) (*model.OutreachMessage, error) {
	if msg.ClaimToken == nil {
		return nil, ErrClaimLost
	}
	var current model.OutreachMessage
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND status = ? AND claim_token = ?", msg.ID, model.StatusSending, *msg.ClaimToken).
		Take(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrClaimLost
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock claimed message: %w", err)
	}
	return &current, nil
}

func fenced(tx *gorm.DB, msg *model.OutreachMessage) *gorm.DB {
	return tx.Model(&model.OutreachMessage{}).
		Where("id = ? AND status = ? AND claim_token = ?", msg.ID, model.StatusSending, *msg.ClaimToken)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func applyOutcome(msg *model.OutreachMessage, outcome model.Outcome, merged model.Metadata) {
	msg.Status = outcome.Status
	msg.Metadata = merged.Clone()
	msg.ClaimToken = nil
	if outcome.SentAt != nil {
		sentAt := *outcome.SentAt
		msg.SentAt = &sentAt
	}
	msg.DeliveryStatus = nil
	if outcome.DeliveryStatus != "" {
		ds := outcome.DeliveryStatus
		msg.DeliveryStatus = &ds
	}
	msg.LastError = nil
	if outcome.LastError != "" {
		le := outcome.LastError
		msg.LastError = &le
	}
}

// Get returns a message by id
func (s *GormStore) Get(ctx context.Context, id string) (*model.OutreachMessage, error) {
	var msg model.OutreachMessage
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outreach message: %w", err)
	}
	return &msg, nil
}

// List returns messages newest first with the total count for the filter
func (s *GormStore) List(ctx context.Context, filter ListFilter) ([]model.OutreachMessage, int64, error) {
	q := s.db.WithContext(ctx).Model(&model.OutreachMessage{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.CompanyID != "" {
		q = q.Where("company_id = ?", filter.CompanyID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count outreach messages: %w", err)
	}

	var msgs []model.OutreachMessage
	if err := q.Order("created_at DESC").Offset(filter.Offset).Limit(filter.Limit).Find(&msgs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list outreach messages: %w", err)
	}
	return msgs, total, nil
}

// CountByStatus returns message counts grouped by status
func (s *GormStore) CountByStatus(ctx context.Context) (map[model.OutreachStatus]int64, error) {
	var rows []struct {
		Status model.OutreachStatus
		Count  int64
	}
	if err := s.db.WithContext(ctx).Model(&model.OutreachMessage{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}
	out := make(map[model.OutreachStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

// IsOptedOut checks the registry for the address, its domain or the company
func (s *GormStore) IsOptedOut(ctx context.Context, address, companyID string) (bool, error) {
	keys := optOutKeys(address, companyID)
	if len(keys) == 0 {
		return false, nil
	}

	q := s.db.WithContext(ctx).Model(&model.OptOutEntry{})
	cond := s.db.Where("1 = 0")
	for typ, value := range keys {
		cond = cond.Or("contact_type = ? AND LOWER(contact_value) = ?", typ, value)
	}

	var count int64
	if err := q.Where(cond).Limit(1).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check opt-out registry: %w", err)
	}
	return count > 0, nil
}

// AddOptOut inserts an entry, ignoring duplicates
func (s *GormStore) AddOptOut(ctx context.Context, entry *model.OptOutEntry) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to add opt-out entry: %w", err)
	}
	return nil
}
