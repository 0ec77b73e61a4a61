package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"leadgen-outreach-go/internal/health"
	metricsPkg "leadgen-outreach-go/internal/metrics"
	"leadgen-outreach-go/internal/mxroute"
	"leadgen-outreach-go/internal/repository"
	"leadgen-outreach-go/internal/schedule"
	"leadgen-outreach-go/internal/scheduler"
	"leadgen-outreach-go/internal/service"
)

// Dependencies are the components the operator API drives
type Dependencies struct {
	Store      repository.OutreachStore
	OptOuts    repository.OptOutRegistry
	Writer     *service.QueueWriter
	Executor   *service.Executor
	Classifier *mxroute.Classifier
	Scheduler  *scheduler.Scheduler
	Health     *health.Checker
	Metrics    *metricsPkg.Metrics
}

// Handlers contains all HTTP handlers
type Handlers struct {
	store      repository.OutreachStore
	optOuts    repository.OptOutRegistry
	writer     *service.QueueWriter
	executor   *service.Executor
	classifier *mxroute.Classifier
	scheduler  *scheduler.Scheduler
	health     *health.Checker
	metrics    *metricsPkg.Metrics
}

// NewHandlers creates new HTTP handlers
func NewHandlers(d Dependencies) *Handlers {
	return &Handlers{
		store:      d.Store,
		optOuts:    d.OptOuts,
		writer:     d.Writer,
		executor:   d.Executor,
		classifier: d.Classifier,
		scheduler:  d.Scheduler,
		health:     d.Health,
		metrics:    d.Metrics,
	}
}

// HealthChecker returns the liveness and readiness checker, or nil when none is wired
func (h *Handlers) HealthChecker() *health.Checker {
	return h.health
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Metrics:   make(map[string]string),
	}

	if _, err := h.store.CountByStatus(c.Request.Context()); err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	if h.scheduler != nil && h.scheduler.IsRunning() {
		response.Metrics["scheduler"] = "running"
		response.Metrics["next_run"] = h.scheduler.GetNextRun().Format(time.RFC3339)
		response.Metrics["last_run"] = h.scheduler.GetLastRun().Format(time.RFC3339)
	} else {
		response.Metrics["scheduler"] = "stopped"
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

// abortWithError maps domain errors onto HTTP status codes
func abortWithError(c *gin.Context, err error, message string) {
	code, kind := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		code, kind = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, schedule.ErrSchedulingExhausted):
		code, kind = http.StatusUnprocessableEntity, "scheduling_exhausted"
	case errors.Is(err, repository.ErrNotFound):
		code, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, repository.ErrAlreadySent):
		code, kind = http.StatusConflict, "already_sent"
	case errors.Is(err, repository.ErrClaimConflict), errors.Is(err, repository.ErrClaimLost):
		code, kind = http.StatusConflict, "claim_conflict"
	case errors.Is(err, service.ErrSendingDisabled):
		code, kind = http.StatusServiceUnavailable, "sending_disabled"
	}
	if code == http.StatusInternalServerError {
		logrus.Errorf("%s: %v", message, err)
	} else {
		message = err.Error()
	}
	c.JSON(code, ErrorResponse{
		Error:   kind,
		Message: message,
		Code:    code,
	})
}
