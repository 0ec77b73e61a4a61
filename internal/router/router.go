// Package router mounts the outreach operator API on a gin engine.
package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"leadgen-outreach-go/internal/handler"
)

// RequestIDHeader carries the per-request correlation id in both directions
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// health paths are polled constantly and log at debug level
var healthPaths = map[string]bool{
	"/healthz": true,
	"/live":    true,
	"/ready":   true,
	"/metrics": true,
}

// SetupRouter builds the engine with request ids, access logging and the outreach routes
func SetupRouter(h *handler.Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(accessLog())

	r.GET("/healthz", h.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if checker := h.HealthChecker(); checker != nil {
		r.GET("/live", gin.WrapF(checker.LiveEndpoint))
		r.GET("/ready", gin.WrapF(checker.ReadyEndpoint))
	}

	api := r.Group("/api/v1")

	outreach := api.Group("/outreach")
	{
		outreach.POST("", h.Enqueue)
		outreach.GET("", h.ListOutreach)
		outreach.GET("/stats", h.GetStats)
		outreach.GET("/:id", h.GetOutreach)
		outreach.POST("/:id/deliver", h.Deliver)
	}

	api.GET("/opt-outs/check", h.CheckOptOut)
	api.POST("/mx/classify", h.ClassifyMX)

	sched := api.Group("/scheduler")
	{
		sched.POST("/start", h.StartScheduler)
		sched.POST("/stop", h.StopScheduler)
		sched.POST("/run-once", h.RunOnce)
		sched.GET("/status", h.GetSchedulerStatus)
	}

	return r
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		entry := logrus.WithFields(logrus.Fields{
			"request_id": c.GetString(requestIDKey),
			"method":     c.Request.Method,
			"route":      route,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		if id := c.Param("id"); id != "" {
			entry = entry.WithField("outreach_id", id)
		}
		if len(c.Errors) > 0 {
			entry = entry.WithField("error", c.Errors.String())
		}

		switch {
		case status >= 500:
			entry.Error("Request failed")
		case healthPaths[route]:
			entry.Debug("Health check served")
		default:
			entry.Info("Request served")
		}
	}
}
