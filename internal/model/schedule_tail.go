package model

import "time"

// ScheduleTail is the lockable tail of one logical send queue
type ScheduleTail struct {
	Queue            string     `json:"queue" gorm:"type:varchar(64);primaryKey"`
	LastScheduledFor *time.Time `json:"last_scheduled_for"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TableName specifies the table name for ScheduleTail
func (ScheduleTail) TableName() string {
	return "outreach_schedule_tails"
}
