// Package app wires configuration, storage, routing and delivery into runnable processes.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"leadgen-outreach-go/internal/config"
	"leadgen-outreach-go/internal/db"
	"leadgen-outreach-go/internal/handler"
	"leadgen-outreach-go/internal/health"
	"leadgen-outreach-go/internal/logging"
	"leadgen-outreach-go/internal/mailer"
	"leadgen-outreach-go/internal/metrics"
	"leadgen-outreach-go/internal/mxroute"
	"leadgen-outreach-go/internal/repository"
	"leadgen-outreach-go/internal/router"
	"leadgen-outreach-go/internal/schedule"
	"leadgen-outreach-go/internal/scheduler"
	"leadgen-outreach-go/internal/service"
)

// App holds the wired outreach components
type App struct {
	Config     *config.Config
	Store      repository.OutreachStore
	OptOuts    repository.OptOutRegistry
	Writer     *service.QueueWriter
	Executor   *service.Executor
	Classifier *mxroute.Classifier
	Scheduler  *scheduler.Scheduler
	Health     *health.Checker
	Metrics    *metrics.Metrics

	db        *gorm.DB
	redis     *goredis.Client
	logCloser io.Closer
}

// LoadConfig loads, validates and applies logging configuration
func LoadConfig(path string) (*config.Config, io.Closer, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	closer, err := logging.Setup(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		closer.Close()
		return nil, nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, closer, nil
}

// New loads configuration and wires every component
func New(ctx context.Context, configPath string) (*App, error) {
	cfg, closer, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	a, err := Build(ctx, cfg)
	if err != nil {
		closer.Close()
		return nil, err
	}
	a.logCloser = closer
	return a, nil
}

// Build wires components from an already validated configuration
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config:  cfg,
		Health:  health.NewChecker(),
		Metrics: metrics.NewMetrics(),
	}

	if err := a.openStore(); err != nil {
		return nil, err
	}
	a.openRedis(ctx)
	a.Classifier = a.newClassifier()

	planner, err := schedule.NewPlanner(cfg.Schedule)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create planner: %w", err)
	}

	mailRouter, err := mailer.NewRouterFromConfig(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create mail router: %w", err)
	}
	logrus.Infof("Mail channels: %v (default %s)", mailRouter.Names(), mailRouter.Default().Name)

	a.Writer = service.NewQueueWriter(a.Store, planner, cfg.Schedule.Queue, a.Metrics)
	a.Executor = service.NewExecutor(a.Store, a.OptOuts, a.Classifier, mailRouter, a.Metrics)
	a.Scheduler = scheduler.NewScheduler(&cfg.Scheduler, a.Store, a.Executor, a.Metrics)
	if !cfg.Sending.Enabled {
		logrus.Warn("Email sending is disabled, messages are scheduled but not delivered")
	}
	a.Executor.SetSendingEnabled(cfg.Sending.Enabled)
	a.Scheduler.SetSendingEnabled(cfg.Sending.Enabled)
	return a, nil
}

func (a *App) openStore() error {
	if a.Config.Database.Driver == "memory" {
		logrus.Warn("Using in-memory store, outreach state is lost on exit")
		store := repository.NewMemoryStore()
		a.Store, a.OptOuts = store, store
		return nil
	}

	conn, err := db.Init(a.Config.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	a.Health.AddDatabase(sqlDB)

	store := repository.NewGormStore(conn)
	a.db = conn
	a.Store, a.OptOuts = store, store
	return nil
}

func (a *App) openRedis(ctx context.Context) {
	cfg := a.Config.Redis
	if !cfg.Enabled {
		return
	}

	opts := &goredis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	if cfg.URL != "" {
		parsed, err := goredis.ParseURL(cfg.URL)
		if err != nil {
			logrus.Warnf("Invalid redis url, using addr %s: %v", cfg.Addr, err)
		} else {
			opts = parsed
		}
	}

	rdb := goredis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logrus.Warnf("Redis ping failed, shared MX cache will miss until it recovers: %v", err)
	} else {
		logrus.Infof("Connected to redis at %s", opts.Addr)
	}
	a.redis = rdb
	a.Health.AddRedis(rdb)
}

func (a *App) newClassifier() *mxroute.Classifier {
	routing := a.Config.Routing
	local := mxroute.NewLocalCache(0)
	var cache mxroute.Cache = local
	if a.redis != nil {
		cache = mxroute.NewTieredCache(local, mxroute.NewRedisCache(a.redis, a.Config.Redis.KeyPrefix), routing.MXCacheTTL())
	}

	primary, alternate := mxroute.ResolversFromConfig(routing.DNSResolvers, routing.DNSTimeout())
	c := mxroute.NewClassifier(routing, primary, alternate, cache)
	c.OnClassify(func(result mxroute.Classification) {
		a.Metrics.MXClassifications.WithLabelValues(string(result.Class)).Inc()
	})
	return c
}

// Handler builds the operator HTTP API
func (a *App) Handler() http.Handler {
	h := handler.NewHandlers(handler.Dependencies{
		Store:      a.Store,
		OptOuts:    a.OptOuts,
		Writer:     a.Writer,
		Executor:   a.Executor,
		Classifier: a.Classifier,
		Scheduler:  a.Scheduler,
		Health:     a.Health,
		Metrics:    a.Metrics,
	})
	gin.SetMode(gin.ReleaseMode)
	return router.SetupRouter(h)
}

// Serve runs the HTTP API and, when autostart is set, the delivery tick until SIGINT or SIGTERM
func (a *App) Serve() error {
	srv := &http.Server{
		Addr:         ":" + a.Config.Server.Port,
		Handler:      a.Handler(),
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}

	if a.Config.Scheduler.Autostart {
		if err := a.Scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("Starting HTTP server on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-waitForSignal():
	case serveErr = <-errCh:
		logrus.Errorf("HTTP server error: %v", serveErr)
	}

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.Scheduler.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	a.Scheduler.Wait()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Server stopped gracefully")
	return serveErr
}

// Work runs only the delivery tick until SIGINT or SIGTERM
func (a *App) Work() error {
	if err := a.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	logrus.Infof("Worker running, tick every %s", a.Scheduler.Interval())

	<-waitForSignal()

	logrus.Info("Shutting down worker...")
	if err := a.Scheduler.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	a.Scheduler.Wait()
	logrus.Info("Worker stopped gracefully")
	return nil
}

// Close releases database, redis and log file handles
func (a *App) Close() error {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logrus.Errorf("Failed to close redis client: %v", err)
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				logrus.Errorf("Failed to close database: %v", err)
			}
		}
	}
	if a.logCloser != nil {
		return a.logCloser.Close()
	}
	return nil
}

// Migrate applies the schema without starting any component
func Migrate(configPath string) error {
	cfg, closer, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	defer closer.Close()

	if cfg.Database.Driver == "memory" {
		logrus.Info("Memory store has no schema to migrate")
		return nil
	}
	conn, err := db.Open(cfg.Database)
	if err != nil {
		return err
	}
	if sqlDB, err := conn.DB(); err == nil {
		defer sqlDB.Close()
	}
	return db.Migrate(conn)
}

func waitForSignal() <-chan os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	return quit
}
