package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"

	apikeydomain "github.com/chamomilehq/chamomile/internal/apikey/domain"
	authdomain "github.com/chamomilehq/chamomile/internal/auth/domain"
	"github.com/chamomilehq/chamomile/internal/auth/session"
	"github.com/chamomilehq/chamomile/internal/config"
	"github.com/chamomilehq/chamomile/internal/events"
	"github.com/chamomilehq/chamomile/internal/observability"
	obsmiddleware "github.com/chamomilehq/chamomile/internal/observability/logger"
	obsmetrics "github.com/chamomilehq/chamomile/internal/observability/metrics"
	obstracing "github.com/chamomilehq/chamomile/internal/observability/tracing"
	"github.com/chamomilehq/chamomile/internal/registry"
	"github.com/chamomilehq/chamomile/internal/summarize"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
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

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
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
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	authsvc      authdomain.Service
	sessions     *session.Manager
	genID        *snowflake.Node
	apiKeySvc    apikeydomain.Service
	registries   *registry.Manager
	summarizeSvc *summarize.Service
	bus          events.Bus
	obsMetrics   *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	Authsvc      authdomain.Service
	Sessions     *session.Manager
	GenID        *snowflake.Node
	APIKeySvc    apikeydomain.Service
	Registries   *registry.Manager
	SummarizeSvc *summarize.Service
	Bus          events.Bus
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		authsvc:      p.Authsvc,
		sessions:     p.Sessions,
		genID:        p.GenID,
		apiKeySvc:    p.APIKeySvc,
		registries:   p.Registries,
		summarizeSvc: p.SummarizeSvc,
		bus:          p.Bus,
		obsMetrics:   p.ObsMetrics,
	}

	svc.registerAuthRoutes()
	svc.registerAPIRoutes()
	svc.registerDashboardRoutes()
	svc.registerUIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/login", s.RequestLoginLink)
	auth.GET("/callback", s.AuthCallback)
	auth.POST("/logout", s.Logout)
	auth.GET("/me", s.Me)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/")
	api.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "x-api-key"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	api.POST("/validate", s.ValidateKey)
	api.POST("/summarize", s.Summarize)
}

func (s *Server) registerDashboardRoutes() {
	keys := s.engine.Group("/dashboards/api-keys", s.requireSession())
	{
		keys.GET("", s.ListAPIKeys)
		keys.POST("", s.CreateAPIKey)
		keys.PATCH("/:id", s.RenameAPIKey)
		keys.DELETE("/:id", s.DeleteAPIKey)
		keys.GET("/events", s.StreamAPIKeyEvents)
	}
}

func (s *Server) registerUIRoutes() {
	r := s.engine.Group("/")

	// ---- SPA entry points ----
	r.GET("/", serveIndex)
	r.GET("/login", s.redirectIfLoggedIn(), serveIndex)
	r.GET("/validate", serveIndex)
	r.GET("/dashboards", s.requireSession(), serveIndex)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		// static assets (vite)
		if fileExists("./public", c.Request.URL.Path) {
			c.File("./public" + c.Request.URL.Path)
			return
		}

		// SPA fallback
		c.File("./public/index.html")
	})
}

func fileExists(publicDir, reqPath string) bool {
	clean := filepath.Clean(reqPath)

	// prevent path traversal
	if clean == "." || clean == "/" || clean == ".." {
		return false
	}

	fullPath := filepath.Join(publicDir, clean)

	info, err := os.Stat(fullPath)
	if err != nil {
		return false
	}

	return !info.IsDir()
}
