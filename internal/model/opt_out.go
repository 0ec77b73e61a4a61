package model

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Opt-out contact types
const (
	ContactTypeEmail   = "email"
	ContactTypeDomain  = "domain"
	ContactTypeCompany = "company"
)

// OptOutEntry is a contact that must never receive outreach
type OptOutEntry struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	ContactValue string    `json:"contact_value" gorm:"type:varchar(255);not null;uniqueIndex"`
	ContactType  string    `json:"contact_type" gorm:"type:varchar(20);not null;default:email"`
	Reason       string    `json:"reason" gorm:"type:varchar(255)"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName specifies the table name for OptOutEntry
func (OptOutEntry) TableName() string {
	return "opt_outs"
}

// BeforeSave keeps contact values case-insensitively unique
func (e *OptOutEntry) BeforeSave(tx *gorm.DB) error {
	e.ContactValue = strings.ToLower(strings.TrimSpace(e.ContactValue))
	return nil
}
