package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"leadgen-outreach-go/internal/model"
	"leadgen-outreach-go/internal/repository"
	"leadgen-outreach-go/internal/service"
)

// Enqueue schedules a new outreach message
func (h *Handlers) Enqueue(c *gin.Context) {
	var req service.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
		return
	}

	msg, err := h.writer.Enqueue(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err, "Failed to enqueue outreach message")
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// ListOutreach returns outreach messages with pagination
func (h *Handlers) ListOutreach(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	filter := repository.ListFilter{
		CompanyID: c.Query("company_id"),
		Offset:    (page - 1) * limit,
		Limit:     limit,
	}
	if s := c.Query("status"); s != "" {
		filter.Status = model.OutreachStatus(s)
		if !filter.Status.Valid() {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: "unknown status " + strconv.Quote(s),
				Code:    http.StatusBadRequest,
			})
			return
		}
	}

	messages, total, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		abortWithError(c, err, "Failed to fetch outreach messages")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"outreach": messages,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetOutreach returns one outreach message
func (h *Handlers) GetOutreach(c *gin.Context) {
	msg, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err, "Failed to fetch outreach message")
		return
	}
	c.JSON(http.StatusOK, msg)
}

// Deliver redelivers one message immediately, applying operator overrides
func (h *Handlers) Deliver(c *gin.Context) {
	var req DeliverRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: err.Error(),
				Code:    http.StatusBadRequest,
			})
			return
		}
	}

	msg, outcome, err := h.executor.Deliver(c.Request.Context(), service.DeliverRequest{
		OutreachID: c.Param("id"),
		CompanyID:  req.CompanyID,
		ContactID:  req.ContactID,
		ToEmail:    req.ToEmail,
		Subject:    req.Subject,
		Body:       req.Body,
		Operator:   req.Operator,
	})
	if err != nil {
		abortWithError(c, err, "Failed to deliver outreach message")
		return
	}

	stored, err := h.store.Get(c.Request.Context(), msg.ID)
	if err != nil {
		stored = msg
	}
	c.JSON(http.StatusOK, DeliverResponse{
		Outreach:       stored,
		Status:         outcome.Status,
		DeliveryStatus: outcome.DeliveryStatus,
		LastError:      outcome.LastError,
	})
}

// GetStats counts outreach messages by status and refreshes the status gauge
func (h *Handlers) GetStats(c *gin.Context) {
	counts, err := h.store.CountByStatus(c.Request.Context())
	if err != nil {
		abortWithError(c, err, "Failed to count outreach messages")
		return
	}

	var total int64
	for status, n := range counts {
		total += n
		if h.metrics != nil {
			h.metrics.MessagesByStatus.WithLabelValues(string(status)).Set(float64(n))
		}
	}

	c.JSON(http.StatusOK, StatsResponse{Counts: counts, Total: total})
}
