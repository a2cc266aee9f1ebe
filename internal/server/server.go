package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/genealogy/internal/assembly"
	assemblydomain "github.com/smallbiznis/genealogy/internal/assembly/domain"
	"github.com/smallbiznis/genealogy/internal/audit"
	auditdomain "github.com/smallbiznis/genealogy/internal/audit/domain"
	"github.com/smallbiznis/genealogy/internal/authorization"
	"github.com/smallbiznis/genealogy/internal/config"
	"github.com/smallbiznis/genealogy/internal/deployment"
	deploymentdomain "github.com/smallbiznis/genealogy/internal/deployment/domain"
	"github.com/smallbiznis/genealogy/internal/lifecycle"
	lifecycledomain "github.com/smallbiznis/genealogy/internal/lifecycle/domain"
	"github.com/smallbiznis/genealogy/internal/observability"
	obsmiddleware "github.com/smallbiznis/genealogy/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/genealogy/internal/observability/metrics"
	obstracing "github.com/smallbiznis/genealogy/internal/observability/tracing"
	"github.com/smallbiznis/genealogy/internal/orgcontext"
	"github.com/smallbiznis/genealogy/internal/providers"
	"github.com/smallbiznis/genealogy/internal/ratelimit"
	"github.com/smallbiznis/genealogy/internal/traceability"
	traceabilitydomain "github.com/smallbiznis/genealogy/internal/traceability/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Domains bundles every module the HTTP surfaces depend on.
var Domains = fx.Options(
	authorization.Module,
	audit.Module,
	providers.Module,
	lifecycle.Module,
	assembly.Module,
	traceability.Module,
	deployment.Module,
	ratelimit.Module,
)

// Module serves the tenant API and the public portal from one listener.
var Module = fx.Module("http.server",
	Domains,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) {
		s.RegisterAPIRoutes()
		s.RegisterPublicRoutes()
	}),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(httpMetrics.Middleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// RunHTTP serves the engine on the configured API address.
func RunHTTP(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	serve(lc, r, cfg.HTTPAddr, log)
}

// RunPortal serves the engine on the configured portal address.
func RunPortal(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	serve(lc, r, cfg.PortalAddr, log)
}

func serve(lc fx.Lifecycle, r *gin.Engine, addr string, log *zap.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	assemblySvc   assemblydomain.Service
	lifecycleSvc  lifecycledomain.Service
	traceSvc      traceabilitydomain.Service
	deploymentSvc deploymentdomain.Service
	auditSvc      auditdomain.Service
	authzSvc      authorization.Service
	limiter       *ratelimit.PublicTokenLimiter
	obsMetrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	AssemblySvc   assemblydomain.Service
	LifecycleSvc  lifecycledomain.Service
	TraceSvc      traceabilitydomain.Service
	DeploymentSvc deploymentdomain.Service
	AuditSvc      auditdomain.Service
	AuthzSvc      authorization.Service
	Limiter       *ratelimit.PublicTokenLimiter `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics           `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		assemblySvc:   p.AssemblySvc,
		lifecycleSvc:  p.LifecycleSvc,
		traceSvc:      p.TraceSvc,
		deploymentSvc: p.DeploymentSvc,
		auditSvc:      p.AuditSvc,
		authzSvc:      p.AuthzSvc,
		limiter:       p.Limiter,
		obsMetrics:    p.ObsMetrics,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// RegisterAPIRoutes mounts the tenant facing API. Callers are identified by
// gateway headers.
func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/api", IdentityRequired())

	// -------- UIDs --------
	api.POST("/uids", s.CreateUID)
	api.GET("/uids", s.ListUIDs)
	api.POST("/uids/validate", s.ValidateUID)
	api.GET("/uids/:uid", s.GetUID)
	api.POST("/assemblies", s.Assemble)
	api.POST("/uids/:uid/links", s.LinkUID)
	api.PATCH("/uids/:uid/status", s.UpdateUIDStatus)
	api.POST("/uids/:uid/defects", s.MarkDefective)
	api.POST("/uids/:uid/quality-checks", s.RecordQualityCheck)

	// -------- Lifecycle --------
	api.GET("/uids/:uid/lifecycle", s.ListLifecycle)
	api.POST("/uids/:uid/lifecycle", s.AppendLifecycle)

	// -------- Traceability --------
	api.GET("/uids/:uid/descendants", s.FindDescendants)
	api.GET("/uids/:uid/suppliers", s.TraceToSupplier)
	api.GET("/uids/:uid/tree", s.BuildTree)
	api.GET("/uids/:uid/recall", s.RecallImpact)
	api.GET("/uids/:uid/recall/report.pdf", s.RecallReport)

	// -------- Deployments --------
	api.POST("/uids/:uid/deployments", s.CreateDeployment)
	api.GET("/uids/:uid/deployments", s.GetDeploymentChain)
	api.GET("/uids/:uid/deployments/current", s.GetCurrentDeployment)
	api.POST("/uids/:uid/deployments/:id/current", s.SetCurrentDeployment)

	api.GET("/audit-logs",
		s.RequireCapability(orgcontext.PermissionAuditLogView, authorization.ObjectAuditLog, authorization.ActionAuditLogView),
		s.ListAuditLogs,
	)
}

// RegisterPublicRoutes mounts the token portal. No identity is required;
// the token in the path is the credential.
func (s *Server) RegisterPublicRoutes() {
	public := s.engine.Group("/public")

	public.GET("/deployments/:token", s.PublicReadRateLimit(), s.GetPublicDeployment)
	public.POST("/deployments/:token", s.PublicUpdateRateLimit(), s.UpdatePublicDeployment)
}
