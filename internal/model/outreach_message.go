package model

import (
	"database/sql/driver"
	"time"
)

// OutreachStatus is the lifecycle state of an outreach message
type OutreachStatus string

const (
	StatusDraft     OutreachStatus = "draft"
	StatusScheduled OutreachStatus = "scheduled"
	StatusSending   OutreachStatus = "sending"
	StatusSent      OutreachStatus = "sent"
	StatusFailed    OutreachStatus = "failed"
	StatusSkipped   OutreachStatus = "skipped"
)

// IsTerminal reports whether the status is final for the delivery path
func (s OutreachStatus) IsTerminal() bool {
	switch s {
	case StatusSent, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Value implements driver.Valuer
func (s OutreachStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// Valid reports whether s is a known status
func (s OutreachStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusSending, StatusSent, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Skip reasons written to metadata.reason
const (
	ReasonOptOut       = "opt_out"
	ReasonInvalidEmail = "invalid_email"
)

// Provider-level outcomes written to delivery_status
const (
	DeliveryAccepted       = "accepted"
	DeliveryAuthFailed     = "auth_failed"
	DeliveryTransportError = "transport_error"
)

// OutreachMessage represents one planned or executed send
type OutreachMessage struct {
	ID             string         `json:"id" gorm:"type:varchar(36);primaryKey"`
	CompanyID      string         `json:"company_id" gorm:"type:varchar(64);not null;index"`
	ContactID      *string        `json:"contact_id" gorm:"type:varchar(64);index"`
	Channel        string         `json:"channel" gorm:"type:varchar(32);not null;default:email"`
	Subject        string         `json:"subject" gorm:"type:text"`
	Body           string         `json:"body" gorm:"type:text"`
	Status         OutreachStatus `json:"status" gorm:"type:varchar(20);not null;index:idx_outreach_due,priority:1"`
	ScheduledFor   *time.Time     `json:"scheduled_for" gorm:"index:idx_outreach_due,priority:2"`
	SentAt         *time.Time     `json:"sent_at"`
	DeliveryStatus *string        `json:"delivery_status" gorm:"type:varchar(64)"`
	LastError      *string        `json:"last_error" gorm:"type:text"`
	ClaimToken     *string        `json:"-" gorm:"type:varchar(36)"`
	ClaimedAt      *time.Time     `json:"claimed_at,omitempty"`
	Metadata       Metadata       `json:"metadata" gorm:"type:text"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	// ClaimedFrom is the status a redelivery claim moved the row out of
	ClaimedFrom OutreachStatus `json:"-" gorm:"-"`
}

// TableName specifies the table name for OutreachMessage
func (OutreachMessage) TableName() string {
	return "outreach_messages"
}

// ToEmail returns the recipient recorded at enqueue time
func (m *OutreachMessage) ToEmail() string {
	return m.Metadata.String(KeyToEmail)
}

// Clone returns a deep copy that does not share pointers or metadata with m
func (m *OutreachMessage) Clone() *OutreachMessage {
	c := *m
	c.ContactID = cloneString(m.ContactID)
	c.DeliveryStatus = cloneString(m.DeliveryStatus)
	c.LastError = cloneString(m.LastError)
	c.ClaimToken = cloneString(m.ClaimToken)
	c.ScheduledFor = cloneTime(m.ScheduledFor)
	c.SentAt = cloneTime(m.SentAt)
	c.ClaimedAt = cloneTime(m.ClaimedAt)
	c.Metadata = m.Metadata.Clone()
	return &c
}

// Outcome is the terminal result the delivery path records for a claimed message
type Outcome struct {
	Status         OutreachStatus
	SentAt         *time.Time
	DeliveryStatus string
	LastError      string
	Metadata       Metadata
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
