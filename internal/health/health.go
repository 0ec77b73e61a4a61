// Package health exposes liveness and readiness checks for the outreach service.
package health

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	goredis "github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// Checker collects the checks served on /live and /ready
type Checker struct {
	health healthcheck.Handler
}

// NewChecker creates a checker with a goroutine liveness guard
func NewChecker() *Checker {
	h := healthcheck.NewHandler()
	h.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))
	return &Checker{health: h}
}

// AddDatabase registers a readiness check that pings db
func (c *Checker) AddDatabase(db *sql.DB) {
	c.health.AddReadinessCheck("database", DatabaseHealthCheck(db))
}

// AddRedis registers a readiness check that pings rdb
func (c *Checker) AddRedis(rdb goredis.UniversalClient) {
	c.health.AddReadinessCheck("redis", RedisHealthCheck(rdb))
}

// AddReadinessCheck registers an arbitrary readiness check
func (c *Checker) AddReadinessCheck(name string, check healthcheck.Check) {
	c.health.AddReadinessCheck(name, check)
}

// LiveEndpoint serves liveness
func (c *Checker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	c.health.LiveEndpoint(w, r)
}

// ReadyEndpoint serves readiness, which includes liveness
func (c *Checker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	c.health.ReadyEndpoint(w, r)
}

// DatabaseHealthCheck pings the database
func DatabaseHealthCheck(db *sql.DB) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()

		return db.PingContext(ctx)
	}
}

// RedisHealthCheck pings the shared MX cache
func RedisHealthCheck(rdb goredis.UniversalClient) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()

		return rdb.Ping(ctx).Err()
	}
}
