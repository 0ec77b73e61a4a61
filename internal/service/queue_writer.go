// Package service schedules outreach messages and carries them through delivery.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"leadgen-outreach-go/internal/metrics"
	"leadgen-outreach-go/internal/model"
	"leadgen-outreach-go/internal/repository"
	"leadgen-outreach-go/internal/schedule"
)

// ErrInvalidRequest is returned when an enqueue request lacks required fields
var ErrInvalidRequest = errors.New("invalid outreach request")

// EnqueueRequest is one message to put on the send schedule
type EnqueueRequest struct {
	CompanyID   string  `json:"company_id"`
	ContactID   *string `json:"contact_id,omitempty"`
	ToEmail     string  `json:"to_email"`
	Subject     string  `json:"subject"`
	Body        string  `json:"body"`
	LLMRequest  any     `json:"llm_request,omitempty"`
	LLMResponse any     `json:"llm_response,omitempty"`
}

// QueueWriter appends messages to the tail of a send schedule
type QueueWriter struct {
	store   repository.OutreachStore
	planner *schedule.Planner
	queue   string
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewQueueWriter creates a writer for one logical queue
func NewQueueWriter(store repository.OutreachStore, planner *schedule.Planner, queue string, m *metrics.Metrics) *QueueWriter {
	if queue == "" {
		queue = "default"
	}
	return &QueueWriter{
		store:   store,
		planner: planner,
		queue:   queue,
		metrics: m,
		now:     time.Now,
	}
}

// Enqueue assigns the next free send time and stores the message as scheduled.
// On schedule.ErrSchedulingExhausted nothing is written.
func (w *QueueWriter) Enqueue(ctx context.Context, req EnqueueRequest) (*model.OutreachMessage, error) {
	companyID := strings.TrimSpace(req.CompanyID)
	toEmail := strings.TrimSpace(req.ToEmail)
	if companyID == "" {
		return nil, fmt.Errorf("%w: company_id is required", ErrInvalidRequest)
	}
	if toEmail == "" {
		return nil, fmt.Errorf("%w: to_email is required", ErrInvalidRequest)
	}

	meta := model.Metadata{model.KeyToEmail: toEmail}
	if req.LLMRequest != nil {
		meta[model.KeyLLMRequest] = req.LLMRequest
	}
	if req.LLMResponse != nil {
		meta[model.KeyLLMResponse] = req.LLMResponse
	}

	msg := &model.OutreachMessage{
		CompanyID: companyID,
		ContactID: req.ContactID,
		Channel:   "email",
		Subject:   req.Subject,
		Body:      req.Body,
		Metadata:  meta,
	}

	err := w.store.AppendScheduled(ctx, w.queue, msg, func(tail *time.Time) (time.Time, error) {
		return w.planner.Next(tail, w.now())
	})
	if err != nil {
		if errors.Is(err, schedule.ErrSchedulingExhausted) {
			logrus.WithField("company_id", companyID).Warnf("No send slot available: %v", err)
			return nil, err
		}
		return nil, fmt.Errorf("failed to enqueue outreach message: %w", err)
	}

	if w.metrics != nil {
		w.metrics.Enqueued.Inc()
	}
	logrus.WithFields(logrus.Fields{
		"outreach_id":   msg.ID,
		"company_id":    companyID,
		"scheduled_for": msg.ScheduledFor.Format(time.RFC3339),
	}).Info("Outreach message scheduled")
	return msg, nil
}
