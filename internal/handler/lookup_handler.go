package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"leadgen-outreach-go/internal/mxroute"
	"leadgen-outreach-go/internal/service"
)

// CheckOptOut reports whether outreach to an address or company is blocked
func (h *Handlers) CheckOptOut(c *gin.Context) {
	address := service.CleanEmail(c.Query("address"))
	companyID := strings.TrimSpace(c.Query("company_id"))
	if address == "" && companyID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "address or company_id is required",
			Code:    http.StatusBadRequest,
		})
		return
	}

	blocked, err := h.optOuts.IsOptedOut(c.Request.Context(), address, companyID)
	if err != nil {
		abortWithError(c, err, "Failed to check opt-out registry")
		return
	}

	c.JSON(http.StatusOK, OptOutResponse{
		Address:   address,
		CompanyID: companyID,
		OptedOut:  blocked,
	})
}

// ClassifyMX classifies a recipient domain without sending anything
func (h *Handlers) ClassifyMX(c *gin.Context) {
	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
		return
	}

	domain := strings.ToLower(strings.TrimSpace(req.Domain))
	if domain == "" {
		domain = mxroute.DomainOf(service.CleanEmail(req.Email))
	}
	if domain == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "email or domain is required",
			Code:    http.StatusBadRequest,
		})
		return
	}

	result := h.classifier.Classify(c.Request.Context(), domain)
	c.JSON(http.StatusOK, ClassifyResponse{
		Domain:    domain,
		Class:     string(result.Class),
		Records:   result.Records,
		CheckedAt: result.CheckedAt,
		Cached:    result.Cached,
		Forced:    result.Forced,
	})
}
