package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/octue/twined-server/internal/config"
	obslogger "github.com/octue/twined-server/internal/observability/logger"
	obsmetrics "github.com/octue/twined-server/internal/observability/metrics"
	"github.com/octue/twined-server/internal/question"
	questiondomain "github.com/octue/twined-server/internal/question/domain"
	"github.com/octue/twined-server/internal/servicerevision"
	srdomain "github.com/octue/twined-server/internal/servicerevision/domain"
	"github.com/octue/twined-server/internal/serviceusage"
	usagedomain "github.com/octue/twined-server/internal/serviceusage/domain"
	"github.com/octue/twined-server/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module wires the HTTP server and the domain services it fronts.
var Module = fx.Module("http.server",
	obsmetrics.Module,
	transport.Module,
	servicerevision.Module,
	question.Module,
	serviceusage.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

// NewEngine builds the gin engine with the shared middleware stack.
func NewEngine(metrics *obsmetrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(metrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

type ServerParam struct {
	fx.In

	Engine       *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	Registry     srdomain.Registry
	Questions    questiondomain.Service
	Ingestor     usagedomain.Ingestor
	Views        usagedomain.Views
	PromRegistry *prometheus.Registry
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	log    *zap.Logger

	registry     srdomain.Registry
	questions    questiondomain.Service
	ingestor     usagedomain.Ingestor
	views        usagedomain.Views
	promRegistry *prometheus.Registry
}

func NewServer(p ServerParam) *Server {
	return &Server{
		engine: p.Engine,
		cfg:    p.Cfg,
		log:    p.Log.Named("http.server"),

		registry:     p.Registry,
		questions:    p.Questions,
		ingestor:     p.Ingestor,
		views:        p.Views,
		promRegistry: p.PromRegistry,
	}
}

func (s *Server) RegisterRoutes() {
	r := s.engine

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{})))

	r.GET("/services/:namespace/:name", s.GetServiceRevision)
	r.GET("/services/:namespace/:name/:tag", s.GetServiceRevision)
	r.POST("/services/:namespace/:name", s.RegisterServiceRevision)

	r.POST("/questions", s.CreateQuestion)
	r.GET("/questions/:id", s.GetQuestion)
	r.GET("/questions/:id/events", s.ListQuestionEvents)
	r.POST("/questions/:id/ask", s.AskQuestion)
	r.POST("/questions/:id/duplicate", s.DuplicateQuestion)

	r.POST("/events/:kind/:question_id", s.ReceiveEvent)
}

func run(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:    s.cfg.HTTPAddr,
		Handler: s.engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				s.log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					s.log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
