package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tgo/engage/internal/metrics"
	"github.com/tgo/engage/internal/middleware"
	"github.com/tgo/engage/internal/model"
	"github.com/tgo/engage/internal/pkg/jwt"
	"github.com/tgo/engage/internal/service"
)

// Deps are the wired services the router exposes.
type Deps struct {
	GinMode      string
	Log          logrus.FieldLogger
	Metrics      *metrics.Metrics
	JWT          *jwt.Manager
	StateMachine *service.StateMachine
	Sessions     *service.SessionService
	Assignment   *service.AssignmentService
	Escalation   *service.EscalationService
	Routing      *service.RoutingService
	Agents       *service.AgentService
}

func SetupRouter(d Deps) *gin.Engine {
	if d.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(d.Log, d.Metrics))

	r.GET("/health", healthCheck)
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	auth := middleware.NewAuthMiddleware(d.JWT)
	can := middleware.RequireCapability

	sessionHandler := NewSessionHandler(d.StateMachine, d.Sessions, d.Assignment, d.Escalation, d.Routing)
	messageHandler := NewMessageHandler(d.Routing)
	escalationHandler := NewEscalationHandler(d.Escalation)
	agentHandler := NewAgentHandler(d.Agents)
	queueHandler := NewQueueHandler(d.Assignment)
	bulkHandler := NewBulkHandler(d.Assignment)

	v1 := r.Group("/v1")
	v1.Use(auth.JWTAuth())
	{
		messages := v1.Group("/messages")
		messages.POST("/inbound", can(model.CapRouteMessages), messageHandler.Inbound)
		messages.POST("/outbound", messageHandler.Outbound)

		sessions := v1.Group("/sessions")
		sessions.GET("", can(model.CapViewStats), sessionHandler.List)
		sessions.GET("/:id", can(model.CapViewStats), sessionHandler.Get)
		sessions.GET("/:id/messages", can(model.CapViewStats), sessionHandler.Messages)
		sessions.GET("/:id/transfers", can(model.CapViewStats), sessionHandler.Transfers)
		sessions.POST("/:id/escalate", sessionHandler.Escalate)
		sessions.POST("/:id/assign", can(model.CapAssign), sessionHandler.Assign)
		sessions.POST("/:id/transfer", can(model.CapAssign), sessionHandler.Transfer)
		sessions.POST("/:id/escalate-to-agent", can(model.CapAssign), sessionHandler.EscalateToAgent)
		sessions.POST("/:id/start-handling", can(model.CapHandle), sessionHandler.StartHandling)
		sessions.POST("/:id/end-handling", can(model.CapHandle), sessionHandler.EndHandling)
		sessions.POST("/:id/resolve", can(model.CapHandle), sessionHandler.Resolve)
		sessions.POST("/:id/close", can(model.CapHandle), sessionHandler.Close)

		escalation := v1.Group("/escalation")
		escalation.GET("/config", can(model.CapViewStats), escalationHandler.GetConfig)
		escalation.PUT("/config", can(model.CapManageConfig), escalationHandler.UpdateConfig)
		escalation.GET("/stats", can(model.CapViewStats), escalationHandler.Stats)

		agents := v1.Group("/agents")
		agents.GET("", can(model.CapViewStats), agentHandler.List)
		agents.GET("/available", can(model.CapAssign), agentHandler.Available)
		agents.GET("/:id", can(model.CapViewStats), agentHandler.Get)
		agents.PUT("/:id/availability", agentHandler.SetAvailability)
		agents.POST("/:id/heartbeat", agentHandler.Heartbeat)

		queue := v1.Group("/queue")
		queue.GET("", can(model.CapAssign), queueHandler.List)
		queue.POST("/drain", can(model.CapAssign), queueHandler.Drain)

		bulk := v1.Group("/bulk")
		bulk.Use(can(model.CapManageAgents))
		bulk.POST("/reassign", bulkHandler.Reassign)
		bulk.POST("/status", bulkHandler.UpdateStatus)
	}

	return r
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
