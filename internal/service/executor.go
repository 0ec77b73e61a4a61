package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"leadgen-outreach-go/internal/mailer"
	"leadgen-outreach-go/internal/metrics"
	"leadgen-outreach-go/internal/model"
	"leadgen-outreach-go/internal/mxroute"
	"leadgen-outreach-go/internal/repository"
)

const finishTimeout = 10 * time.Second

// ErrSendingDisabled is returned by Deliver while the global sending switch is off
var ErrSendingDisabled = errors.New("email sending is disabled")

// Classifier maps a recipient address to its MX class
type Classifier interface {
	ClassifyEmail(ctx context.Context, address string) mxroute.Classification
}

// DeliverRequest is an operator-triggered redelivery. Empty fields keep the stored values.
type DeliverRequest struct {
	OutreachID string  `json:"outreach_id"`
	CompanyID  string  `json:"company_id,omitempty"`
	ContactID  *string `json:"contact_id,omitempty"`
	ToEmail    string  `json:"to_email,omitempty"`
	Subject    string  `json:"subject,omitempty"`
	Body       string  `json:"body,omitempty"`
	Operator   string  `json:"operator,omitempty"`
}

// Executor carries claimed messages through opt-out, validation, routing and sending
type Executor struct {
	store      repository.OutreachStore
	optOuts    repository.OptOutRegistry
	classifier Classifier
	router     *mailer.Router
	metrics    *metrics.Metrics
	now        func() time.Time
	disabled   atomic.Bool
}

// NewExecutor creates an executor
func NewExecutor(store repository.OutreachStore, optOuts repository.OptOutRegistry, classifier Classifier, router *mailer.Router, m *metrics.Metrics) *Executor {
	return &Executor{
		store:      store,
		optOuts:    optOuts,
		classifier: classifier,
		router:     router,
		metrics:    m,
		now:        time.Now,
	}
}

// Execute delivers one claimed message and records its terminal outcome.
// A nil error means the outcome was stored; the outcome itself may be failed or skipped.
func (e *Executor) Execute(ctx context.Context, msg *model.OutreachMessage) (model.Outcome, error) {
	log := logrus.WithFields(logrus.Fields{
		"outreach_id": msg.ID,
		"company_id":  msg.CompanyID,
	})

	to := CleanEmail(msg.ToEmail())

	if err := e.checkOptOut(ctx, to, msg.CompanyID); err != nil {
		if !errors.Is(err, ErrOptedOut) {
			return model.Outcome{}, err
		}
		log.Info("Recipient opted out, skipping")
		return e.finish(ctx, msg, skipped(model.ReasonOptOut, model.ReasonOptOut))
	}

	if err := ValidateRecipient(to); err != nil {
		log.Infof("Skipping message: %v", err)
		return e.finish(ctx, msg, skipped(model.ReasonInvalidEmail, err.Error()))
	}

	cls := e.classifier.ClassifyEmail(ctx, to)
	primary := e.router.Route(string(cls.Class))
	// nil entries drop what an earlier attempt left behind
	route := map[string]any{
		"provider":      primary.Name,
		"fallback":      false,
		"primary":       nil,
		"primary_error": nil,
		"error":         nil,
	}
	if err := e.store.MergeMetadata(ctx, msg, model.Metadata{
		model.KeyMX:     mxMetadata(cls),
		model.KeyRoute:  route,
		model.KeyReason: nil,
	}); err != nil {
		return model.Outcome{}, fmt.Errorf("failed to record routing decision: %w", err)
	}
	log = log.WithFields(logrus.Fields{"channel": primary.Name, "mx_class": cls.Class})

	used, receipt, err := e.send(ctx, log, msg, to, primary, route)
	if err != nil {
		route["error"] = err.Error()
		status := model.DeliveryTransportError
		if mailer.IsAuthError(err) {
			status = model.DeliveryAuthFailed
		}
		log.Errorf("Delivery failed via %s: %v", used.Name, err)
		e.countFailed(used.Name)
		return e.finish(ctx, msg, model.Outcome{
			Status:         model.StatusFailed,
			DeliveryStatus: status,
			LastError:      err.Error(),
			Metadata:       model.Metadata{model.KeyRoute: route},
		})
	}

	sentAt := e.now().UTC()
	log.WithField("message_id", receipt.MessageID).Infof("Message sent via %s", used.Name)
	e.countSent(used.Name)
	return e.finish(ctx, msg, model.Outcome{
		Status:         model.StatusSent,
		SentAt:         &sentAt,
		DeliveryStatus: model.DeliveryAccepted,
		Metadata: model.Metadata{
			model.KeyMessageID: receipt.MessageID,
			model.KeyRoute:     route,
		},
	})
}

// send makes the primary attempt and, when the primary channel rejects its
// credentials and is not the default, exactly one attempt through the default channel.
func (e *Executor) send(ctx context.Context, log *logrus.Entry, msg *model.OutreachMessage, to string, primary *mailer.Channel, route map[string]any) (*mailer.Channel, mailer.Receipt, error) {
	receipt, err := primary.Transport.Send(ctx, primary.Envelope(to, msg.Subject, msg.Body))
	if err == nil || !mailer.IsAuthError(err) {
		return primary, receipt, err
	}

	fallback := e.router.Default()
	if fallback.Name == primary.Name {
		return primary, receipt, err
	}

	log.Warnf("Authentication failed on %s, retrying via %s: %v", primary.Name, fallback.Name, err)
	route["provider"] = fallback.Name
	route["fallback"] = true
	route["primary"] = primary.Name
	route["primary_error"] = err.Error()
	if e.metrics != nil {
		e.metrics.Fallbacks.Inc()
	}

	receipt, err = fallback.Transport.Send(ctx, fallback.Envelope(to, msg.Subject, msg.Body))
	return fallback, receipt, err
}

func (e *Executor) checkOptOut(ctx context.Context, address, companyID string) error {
	opted, err := e.optOuts.IsOptedOut(ctx, address, companyID)
	if err != nil {
		return fmt.Errorf("failed to check opt-out registry: %w", err)
	}
	if opted {
		return ErrOptedOut
	}
	return nil
}

// finish stores the outcome. The write survives cancellation of ctx so that a
// message handed to a transport is never left looking unsent.
func (e *Executor) finish(ctx context.Context, msg *model.OutreachMessage, outcome model.Outcome) (model.Outcome, error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if err := e.store.Finish(writeCtx, msg, outcome); err != nil {
		if errors.Is(err, repository.ErrClaimLost) {
			logrus.WithField("outreach_id", msg.ID).Warn("Claim lost before recording outcome")
		}
		return outcome, err
	}
	if outcome.Status == model.StatusSkipped && e.metrics != nil {
		e.metrics.Skipped.WithLabelValues(outcome.Metadata.String(model.KeyReason)).Inc()
	}
	return outcome, nil
}

// SetSendingEnabled turns operator redelivery on or off
func (e *Executor) SetSendingEnabled(enabled bool) {
	e.disabled.Store(!enabled)
}

// Deliver claims one message by id and runs it through Execute with operator overrides applied.
func (e *Executor) Deliver(ctx context.Context, req DeliverRequest) (*model.OutreachMessage, model.Outcome, error) {
	if e.disabled.Load() {
		return nil, model.Outcome{}, ErrSendingDisabled
	}
	msg, err := e.store.ClaimByID(ctx, req.OutreachID, e.now())
	if err != nil {
		return nil, model.Outcome{}, err
	}

	audit := map[string]any{"requested_at": e.now().UTC().Format(time.RFC3339)}
	if req.Operator != "" {
		audit["operator"] = req.Operator
	}
	if msg.LastError != nil {
		audit["previous_error"] = *msg.LastError
	}

	var overridden []any
	if v := strings.TrimSpace(req.CompanyID); v != "" && v != msg.CompanyID {
		msg.CompanyID = v
		overridden = append(overridden, "company_id")
	}
	if req.ContactID != nil {
		contact := req.ContactID
		if strings.TrimSpace(*contact) == "" {
			contact = nil
		}
		if !sameContact(contact, msg.ContactID) {
			msg.ContactID = contact
			overridden = append(overridden, "contact_id")
		}
	}
	if req.Subject != "" && req.Subject != msg.Subject {
		msg.Subject = req.Subject
		overridden = append(overridden, "subject")
	}
	if req.Body != "" && req.Body != msg.Body {
		msg.Body = req.Body
		overridden = append(overridden, "body")
	}
	if len(overridden) > 0 {
		if err := e.store.UpdateContent(ctx, msg); err != nil {
			return nil, model.Outcome{}, e.release(ctx, msg, err)
		}
	}
	to := strings.TrimSpace(req.ToEmail)
	if to != "" && to != msg.ToEmail() {
		overridden = append(overridden, "to_email")
	}
	if len(overridden) > 0 {
		audit["overrides"] = overridden
	}

	patch := model.Metadata{model.KeyManual: appendAudit(msg.Metadata, audit)}
	if to != "" {
		patch[model.KeyToEmail] = to
	}
	if err := e.store.MergeMetadata(ctx, msg, patch); err != nil {
		return nil, model.Outcome{}, e.release(ctx, msg, err)
	}

	logrus.WithField("outreach_id", msg.ID).Info("Manual redelivery requested")
	outcome, err := e.Execute(ctx, msg)
	return msg, outcome, err
}

// release hands a redelivery claim back after cause aborted it before sending
func (e *Executor) release(ctx context.Context, msg *model.OutreachMessage, cause error) error {
	if errors.Is(cause, repository.ErrClaimLost) {
		return cause
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	if err := e.store.Release(writeCtx, msg); err != nil {
		logrus.WithField("outreach_id", msg.ID).Errorf("Failed to release claim, row stays in sending until the lease expires: %v", err)
	}
	return cause
}

func sameContact(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func appendAudit(meta model.Metadata, entry map[string]any) []any {
	var out []any
	if prev, ok := meta[model.KeyManual].([]any); ok {
		out = append(out, prev...)
	}
	return append(out, entry)
}

func skipped(reason, lastError string) model.Outcome {
	return model.Outcome{
		Status:    model.StatusSkipped,
		LastError: lastError,
		Metadata:  model.Metadata{model.KeyReason: reason, model.KeyRoute: nil},
	}
}

func mxMetadata(c mxroute.Classification) map[string]any {
	records := make([]any, len(c.Records))
	for i, r := range c.Records {
		records[i] = r
	}
	checkedAt := ""
	if !c.CheckedAt.IsZero() {
		checkedAt = c.CheckedAt.UTC().Format(time.RFC3339)
	}
	return map[string]any{
		"class":      string(c.Class),
		"records":    records,
		"checked_at": checkedAt,
	}
}

func (e *Executor) countSent(channel string) {
	if e.metrics != nil {
		e.metrics.Sent.WithLabelValues(channel).Inc()
	}
}

func (e *Executor) countFailed(channel string) {
	if e.metrics != nil {
		e.metrics.Failed.WithLabelValues(channel).Inc()
	}
}
