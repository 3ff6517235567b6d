package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cropdoctor/internal/blobstore"
	"cropdoctor/internal/media"
	"cropdoctor/internal/middleware"
	"cropdoctor/internal/models"
	"cropdoctor/internal/notify"
)

// ReportStore is the slice of storage the HTTP surface needs.
type ReportStore interface {
	UpsertInteraction(ctx context.Context, farmerIDHash string) error
	ListReports(ctx context.Context, f models.ReportFilter) ([]models.Report, int64, error)
	GetReport(ctx context.Context, idOrUUID string) (*models.Report, error)
	CorrectReport(ctx context.Context, idOrUUID, correctedDisease, notes, reviewerID string) (*models.Report, error)
	OverviewStats(ctx context.Context) (*models.OverviewStats, error)
	Ping(ctx context.Context) error
}

// Enqueuer pushes analysis jobs onto the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job models.AnalysisJob) error
}

// MLHealth probes the inference service for the health surface.
type MLHealth interface {
	HealthCheck(ctx context.Context) error
}

type Server struct {
	cfg      *models.Config
	router   *gin.Engine
	store    ReportStore
	producer Enqueuer
	notifier notify.Notifier
	media    media.Fetcher
	blobs    blobstore.Store
	ml       MLHealth
	log      *zap.Logger

	httpServer *http.Server
}

func NewServer(cfg *models.Config, store ReportStore, producer Enqueuer, notifier notify.Notifier,
	mediaFetcher media.Fetcher, blobs blobstore.Store, ml MLHealth, log *zap.Logger) *Server {

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:      cfg,
		router:   r,
		store:    store,
		producer: producer,
		notifier: notifier,
		media:    mediaFetcher,
		blobs:    blobs,
		ml:       ml,
		log:      log,
	}

	r.Use(s.requestLogger())
	r.Static("/files", cfg.StoragePath)

	r.GET("/webhooks/whatsapp", s.handleWebhookVerify)
	r.POST("/webhooks/whatsapp", s.handleWebhookEvent)

	r.GET("/api/health", s.handleHealth)

	api := r.Group("/api/reports")
	api.Use(middleware.Auth(cfg.JWTSecret, log))
	{
		api.GET("", s.handleListReports)
		api.GET("/stats/overview", s.handleStats)
		api.GET("/:id", s.handleGetReport)
		api.POST("/:id/correct", s.handleCorrectReport)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	return s
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.ServerAddr,
		Handler: s.router,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
