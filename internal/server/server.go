package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inkstory/attribution/internal/ads"
	adsdomain "github.com/inkstory/attribution/internal/ads/domain"
	"github.com/inkstory/attribution/internal/config"
	"github.com/inkstory/attribution/internal/earnings"
	earningsdomain "github.com/inkstory/attribution/internal/earnings/domain"
	"github.com/inkstory/attribution/internal/observability"
	obsmiddleware "github.com/inkstory/attribution/internal/observability/logger"
	obsmetrics "github.com/inkstory/attribution/internal/observability/metrics"
	obstracing "github.com/inkstory/attribution/internal/observability/tracing"
	"github.com/inkstory/attribution/internal/ratelimit"
	"github.com/inkstory/attribution/internal/referral"
	referraldomain "github.com/inkstory/attribution/internal/referral/domain"
	"github.com/inkstory/attribution/internal/refstore"
)

var Module = fx.Module("http.server",
	config.Module,
	fx.Provide(registerGin),
	refstore.Module,
	ratelimit.Module,
	referral.Module,
	earnings.Module,
	ads.Module,
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

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
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
	engine      *gin.Engine
	cfg         config.Config
	db          *gorm.DB
	log         *zap.Logger
	refStore    *refstore.Store
	limiter     *ratelimit.PublicEventLimiter
	referralSvc referraldomain.Service
	earningsSvc earningsdomain.Service
	adsSvc      adsdomain.Service
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	DB          *gorm.DB
	Log         *zap.Logger
	RefStore    *refstore.Store
	Limiter     *ratelimit.PublicEventLimiter `optional:"true"`
	ReferralSvc referraldomain.Service
	EarningsSvc earningsdomain.Service
	AdsSvc      adsdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		db:          p.DB,
		log:         p.Log.Named("http.server"),
		refStore:    p.RefStore,
		limiter:     p.Limiter,
		referralSvc: p.ReferralSvc,
		earningsSvc: p.EarningsSvc,
		adsSvc:      p.AdsSvc,
	}

	svc.registerReferralRoutes()
	svc.registerAdRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerReferralRoutes() {
	s.engine.GET("/r/:code", s.EnsureVisitorCookie(), s.CaptureVisit)
	s.engine.GET("/api/visit", s.EnsureVisitorCookie(), s.RecordVisit)

	api := s.engine.Group("/api/referral", s.EnsureVisitorCookie())
	api.POST("/attach", s.AttachReferral)
	api.POST("/click", s.PublicRateLimit("referral.click"), s.LogReferralClick)
	api.POST("/rotate", s.RotateReferralCode)
	api.GET("/code", s.GetReferralCode)
	api.GET("/stats", s.GetReferralStats)
}

func (s *Server) registerAdRoutes() {
	s.engine.POST("/api/ads/track", s.EnsureVisitorCookie(), s.PublicRateLimit("ads.track"), s.TrackAdEvent)
	s.engine.GET("/api/ads/placement/:placement", s.GetAdForPlacement)
	s.engine.GET("/ads/redirect", s.AdRedirect)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/api/webhooks/checkout", s.HandleCheckoutWebhook)
}
