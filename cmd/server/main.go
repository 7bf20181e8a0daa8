package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tgo/engage/internal/config"
	"github.com/tgo/engage/internal/handler"
	"github.com/tgo/engage/internal/metrics"
	"github.com/tgo/engage/internal/pkg/botclient"
	"github.com/tgo/engage/internal/pkg/db"
	"github.com/tgo/engage/internal/pkg/jwt"
	"github.com/tgo/engage/internal/pkg/logger"
	"github.com/tgo/engage/internal/pkg/notify"
	"github.com/tgo/engage/internal/pkg/redis"
	"github.com/tgo/engage/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	gormDB, err := db.NewGormDB(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect database")
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		log.WithError(err).Fatal("failed to migrate")
	}

	m := metrics.NewMetrics()

	// Redis is optional: without it there is no config cache, no sweep lease
	// and no presence tracking.
	var (
		cache    service.ConfigCache
		lease    service.Lease
		presence *redis.AgentPresence
	)
	if cfg.RedisURL != "" {
		redisClient, err := redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Warn("failed to connect to Redis, running without cache and sweep lease")
		} else {
			defer redisClient.Close()
			cache = redis.NewEscalationConfigCache(redisClient, cfg.ConfigCacheTTL())
			lease = redis.NewLease(redisClient, "engage:sweep", holderID(), cfg.SweepLease())
			if cfg.AgentPresence() > 0 {
				presence = redis.NewAgentPresence(redisClient, cfg.AgentPresence())
			}
		}
	}

	var notifier service.Notifier = notify.LogNotifier{Log: log}
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.NotifyWebhookURL)
	}

	weights := service.ScoreWeights{
		Skill:       cfg.ScoreWeightSkill,
		Language:    cfg.ScoreWeightLanguage,
		Workload:    cfg.ScoreWeightWorkload,
		Performance: cfg.ScoreWeightPerformance,
		Recency:     cfg.ScoreWeightRecency,
	}

	sm := service.NewStateMachine(gormDB, log, m)
	assign := service.NewAssignmentService(gormDB, sm, weights, log, m)
	escalation := service.NewEscalationService(gormDB, sm, assign, cache, notifier, log, m)
	routing := service.NewRoutingService(gormDB, sm, escalation, botclient.NewClient(cfg.BotServiceURL), log)

	sweepOpts := service.SweepOptions{
		Interval:  cfg.SweepInterval(),
		BatchSize: cfg.SweepBatchSize,
		Lease:     lease,
	}
	var heartbeats service.HeartbeatRecorder
	if presence != nil {
		sweepOpts.Presence = presence
		heartbeats = presence
	}
	agents := service.NewAgentService(gormDB, assign, heartbeats, log)

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	sweep := service.NewSweepService(gormDB, escalation, assign, sweepOpts, log, m)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweep.Start(sweepCtx)
	}()

	router := handler.SetupRouter(handler.Deps{
		GinMode:      cfg.GinMode,
		Log:          log,
		Metrics:      m,
		JWT:          jwt.NewManager(cfg.JWTSecret, cfg.AccessTokenExpireMin),
		StateMachine: sm,
		Sessions:     service.NewSessionService(gormDB),
		Assignment:   assign,
		Escalation:   escalation,
		Routing:      routing,
		Agents:       agents,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"port":        cfg.Port,
			"environment": cfg.Environment,
		}).Info("engage server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	sweepCancel()
	<-sweepDone

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	log.Info("server exited")
}

func holderID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "engage"
	}
	return host + "-" + uuid.NewString()[:8]
}
