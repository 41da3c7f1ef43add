package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/creatorquota/internal/auth"
	"github.com/smallbiznis/creatorquota/internal/billing"
	"github.com/smallbiznis/creatorquota/internal/config"
	"github.com/smallbiznis/creatorquota/internal/entitlement"
	entitlementdomain "github.com/smallbiznis/creatorquota/internal/entitlement/domain"
	"github.com/smallbiznis/creatorquota/internal/idempotency"
	"github.com/smallbiznis/creatorquota/internal/ideas"
	"github.com/smallbiznis/creatorquota/internal/observability"
	obsmiddleware "github.com/smallbiznis/creatorquota/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/creatorquota/internal/observability/metrics"
	obstracing "github.com/smallbiznis/creatorquota/internal/observability/tracing"
	"github.com/smallbiznis/creatorquota/internal/prediction"
	"github.com/smallbiznis/creatorquota/internal/ratelimit"
	"github.com/smallbiznis/creatorquota/internal/resetpolicy"
	"github.com/smallbiznis/creatorquota/internal/usage"
	usagedomain "github.com/smallbiznis/creatorquota/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultHTTPAddr = ":8080"

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	resetpolicy.Module,
	entitlement.Module,
	usage.Module,
	idempotency.Module,
	auth.Module,
	ratelimit.Module,
	billing.Module,
	prediction.Module,
	ideas.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type engineParams struct {
	fx.In

	ObsConfig   observability.Config
	HTTPMetrics *obsmetrics.HTTPMetrics `optional:"true"`
}

func registerGin(p engineParams) *gin.Engine {
	return NewEngine(p.ObsConfig, p.HTTPMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = defaultHTTPAddr
	}
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
					panic(err)
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
	engine       *gin.Engine
	cfg          config.Config
	log          *zap.Logger
	verifier     *auth.Verifier
	limiter      ratelimit.Limiter
	usagesvc     usagedomain.Service
	entitlements entitlementdomain.Service
	ideassvc     *ideas.Service
	stripe       *billing.Service
	replicate    *prediction.Service
	metrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	Verifier     *auth.Verifier
	Limiter      ratelimit.Limiter `optional:"true"`
	Usage        usagedomain.Service
	Entitlements entitlementdomain.Service
	Ideas        *ideas.Service
	Stripe       *billing.Service
	Replicate    *prediction.Service
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		log:          p.Log.Named("http"),
		verifier:     p.Verifier,
		limiter:      p.Limiter,
		usagesvc:     p.Usage,
		entitlements: p.Entitlements,
		ideassvc:     p.Ideas,
		stripe:       p.Stripe,
		replicate:    p.Replicate,
		metrics:      p.Metrics,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.IPRateLimit())
	api.Use(s.AuthRequired())

	api.POST("/usage/:feature/check", s.CheckUsage)
	api.GET("/usage", s.GetUsageSummary)
	api.GET("/entitlement", s.GetEntitlement)
	api.POST("/ideas", s.GenerateIdeas)
	api.POST("/thumbnails/lookup", s.LookupThumbnail)

	if !s.cfg.IsProduction() {
		api.POST("/dev/usage/reset", s.ResetUsage)
	}
}

func (s *Server) registerWebhookRoutes() {
	hooks := s.engine.Group("/api/webhooks")
	hooks.Use(s.IPRateLimit())

	hooks.POST("/stripe", s.StripeWebhook)
	hooks.POST("/replicate", s.ReplicateWebhook)
}
