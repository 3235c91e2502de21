// Package api exposes the control plane over HTTP. Workers enroll, poll for
// sessions, claim work items, and push audit logs; operators manage
// processes, triggers, queues, credentials, and tokens through the same
// surface.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/droverd/drover/pkg/events"
	"github.com/droverd/drover/pkg/lifecycle"
	"github.com/droverd/drover/pkg/log"
	"github.com/droverd/drover/pkg/metrics"
	"github.com/droverd/drover/pkg/queue"
	"github.com/droverd/drover/pkg/registry"
	"github.com/droverd/drover/pkg/security"
	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/types"
)

// Server is the HTTP facade over the control plane services.
type Server struct {
	store     storage.Store
	registry  *registry.Service
	sessions  *lifecycle.Service
	queues    *queue.Service
	encryptor *security.Encryptor
	broker    *events.Broker
	logger    zerolog.Logger

	router *gin.Engine
	http   *http.Server
}

// Options wires the server's collaborators. Encryptor may be nil, in which
// case credential endpoints refuse to store secret material.
type Options struct {
	Store     storage.Store
	Registry  *registry.Service
	Sessions  *lifecycle.Service
	Queues    *queue.Service
	Encryptor *security.Encryptor
	Broker    *events.Broker
}

// NewServer builds the HTTP server and its route table.
func NewServer(opts Options) *Server {
	s := &Server{
		store:     opts.Store,
		registry:  opts.Registry,
		sessions:  opts.Sessions,
		queues:    opts.Queues,
		encryptor: opts.Encryptor,
		broker:    opts.Broker,
		logger:    log.WithComponent("api"),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.instrument())

	// Unauthenticated surface
	r.GET("/healthz", gin.WrapF(metrics.HealthHandler()))
	r.GET("/readyz", gin.WrapF(metrics.ReadyHandler()))
	r.GET("/livez", gin.WrapF(metrics.LivenessHandler()))
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group("/api/v1")
	v1.Use(s.authenticate())
	{
		v1.POST("/resources", s.enrollResource)
		v1.GET("/resources", s.listResources)
		v1.GET("/resources/:id", s.getResource)
		v1.PUT("/resources/:id/ping", s.pingResource)
		v1.DELETE("/resources/:id", s.detachResource)

		v1.POST("/sessions", s.createSession)
		v1.GET("/sessions", s.listSessions)
		v1.GET("/sessions/:id", s.getSession)
		v1.GET("/sessions/by_resource_id/:resource_id", s.sessionByResource)
		v1.PUT("/sessions/:id/status", s.updateSessionStatus)
		v1.PUT("/sessions/:id/stop", s.stopSession)

		v1.POST("/processes", s.createProcess)
		v1.GET("/processes", s.listProcesses)
		v1.GET("/processes/:id", s.getProcess)
		v1.PUT("/processes/:id", s.updateProcess)
		v1.DELETE("/processes/:id", s.deleteProcess)

		v1.POST("/triggers", s.createTrigger)
		v1.GET("/triggers", s.listTriggers)
		v1.GET("/triggers/:id", s.getTrigger)
		v1.PUT("/triggers/:id", s.updateTrigger)
		v1.DELETE("/triggers/:id", s.deleteTrigger)

		v1.POST("/workqueues", s.createWorkqueue)
		v1.GET("/workqueues", s.listWorkqueues)
		v1.GET("/workqueues/:id", s.getWorkqueue)
		v1.PUT("/workqueues/:id", s.updateWorkqueue)
		v1.DELETE("/workqueues/:id", s.deleteWorkqueue)
		v1.POST("/workqueues/:id/add", s.addWorkItem)
		v1.GET("/workqueues/:id/next_item", s.claimWorkItem)
		v1.POST("/workqueues/:id/clear", s.clearWorkItems)
		v1.GET("/workqueues/:id/items", s.workItemsByReference)
		v1.GET("/workqueues/:id/information", s.workqueueInfo)

		v1.GET("/workitems/:id", s.getWorkItem)
		v1.PUT("/workitems/:id/status", s.updateWorkItemStatus)

		v1.POST("/audit-logs", s.appendAuditLog)
		v1.GET("/sessions/:id/audit-logs", s.auditLogsBySession)
		v1.GET("/workitems/:id/audit-logs", s.auditLogsByWorkItem)

		v1.POST("/credentials", s.createCredential)
		v1.GET("/credentials", s.listCredentials)
		v1.GET("/credentials/:id", s.getCredential)
		v1.DELETE("/credentials/:id", s.deleteCredential)

		v1.POST("/tokens", s.createToken)
		v1.GET("/tokens", s.listTokens)
		v1.DELETE("/tokens/:id", s.deleteToken)

		v1.GET("/events", s.streamEvents)
	}

	s.router = r
	return s
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves HTTP on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	metrics.RegisterComponent("api", true, "")
	s.logger.Info().Str("addr", addr).Msg("api listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// writeError maps domain errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrGone):
		status = http.StatusGone
	case errors.Is(err, types.ErrInvalid), errors.Is(err, types.ErrInvalidTransition):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrContended):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func now() time.Time {
	return time.Now().UTC()
}
