package handler

import (
	"time"

	"leadgen-outreach-go/internal/model"
	"leadgen-outreach-go/internal/scheduler"
)

// DeliverRequest carries optional overrides for a manual redelivery
type DeliverRequest struct {
	CompanyID string  `json:"company_id"`
	ContactID *string `json:"contact_id"`
	ToEmail   string  `json:"to_email"`
	Subject   string  `json:"subject"`
	Body      string  `json:"body"`
	Operator  string  `json:"operator"`
}

// DeliverResponse reports the outcome of a manual redelivery
type DeliverResponse struct {
	Outreach       *model.OutreachMessage `json:"outreach"`
	Status         model.OutreachStatus   `json:"status"`
	DeliveryStatus string                 `json:"delivery_status,omitempty"`
	LastError      string                 `json:"last_error,omitempty"`
}

// ClassifyRequest names either an address or a bare domain
type ClassifyRequest struct {
	Email  string `json:"email"`
	Domain string `json:"domain"`
}

// ClassifyResponse is a diagnostic MX classification
type ClassifyResponse struct {
	Domain    string    `json:"domain"`
	Class     string    `json:"class"`
	Records   []string  `json:"records"`
	CheckedAt time.Time `json:"checked_at"`
	Cached    bool      `json:"cached"`
	Forced    bool      `json:"forced"`
}

// OptOutResponse answers an opt-out lookup
type OptOutResponse struct {
	Address   string `json:"address"`
	CompanyID string `json:"company_id,omitempty"`
	OptedOut  bool   `json:"opted_out"`
}

// StatsResponse counts messages by status
type StatsResponse struct {
	Counts map[model.OutreachStatus]int64 `json:"counts"`
	Total  int64                          `json:"total"`
}

// SchedulerStatusResponse describes the delivery tick
type SchedulerStatusResponse struct {
	Status     string                `json:"status"`
	Interval   string                `json:"interval"`
	NextRun    time.Time             `json:"next_run"`
	LastRun    time.Time             `json:"last_run"`
	LastResult *scheduler.TickResult `json:"last_result,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
