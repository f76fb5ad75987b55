package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nebari-dev/labgate/internal/api/handlers"
	"github.com/nebari-dev/labgate/internal/api/middleware"
	"github.com/nebari-dev/labgate/internal/auth"
	"github.com/nebari-dev/labgate/internal/compliance"
	"github.com/nebari-dev/labgate/internal/config"
	"github.com/nebari-dev/labgate/internal/rbac"
	"github.com/nebari-dev/labgate/internal/report"
	"github.com/nebari-dev/labgate/internal/service"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"
)

// Deps are the components the HTTP API is built on.
type Deps struct {
	DB       *gorm.DB
	Auth     *auth.Authenticator
	Enforcer *rbac.Enforcer
	Engine   *compliance.Engine
	Access   *service.AccessService
	Metrics  *service.MetricsService
	Catalog  *service.CatalogService
	Reports  *report.Builder
	Jobs     handlers.JobSubmitter
	JobState handlers.JobReader
	Blobs    handlers.BlobOpener
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware())

	infoHandler := handlers.NewInfoHandler(d.DB)
	accessHandler := handlers.NewAccessHandler(d.Access, d.Jobs, d.JobState)
	complianceHandler := handlers.NewComplianceHandler(d.Engine, d.Reports)
	metricsHandler := handlers.NewMetricsHandler(d.Metrics)
	adminHandler := handlers.NewAdminHandler(d.Catalog)
	documentHandler := handlers.NewDocumentHandler(d.Catalog, d.Blobs)

	// Public routes
	public := router.Group("/api/v1")
	{
		public.GET("/health", infoHandler.HealthCheck)
		public.GET("/version", handlers.GetVersion)
		public.POST("/auth/login", handlers.Login(d.Auth, cfg.Server.Mode == "production"))
		public.POST("/auth/logout", handlers.Logout)
	}

	protected := router.Group("/api/v1")
	protected.Use(d.Auth.Middleware())
	protected.GET("/auth/me", handlers.Me)
	protected.GET("/info", infoHandler.GetInfo)

	// Engineer self-service
	self := protected.Group("")
	self.Use(middleware.RequirePermission(d.Enforcer, rbac.SelfService))
	{
		self.POST("/access/requests", accessHandler.RequestAccess)
		self.POST("/access/requests/cancel", accessHandler.CancelRequest)
		self.POST("/documents/:id/ack", documentHandler.Acknowledge)
		self.GET("/me/documents", documentHandler.MyDocuments)
	}

	// Managers
	manage := protected.Group("")
	manage.Use(middleware.RequirePermission(d.Enforcer, rbac.ManageAccess))
	{
		manage.POST("/access/approve", accessHandler.Approve)
		manage.POST("/access/revoke", accessHandler.Revoke)
		manage.POST("/access/autocheck", accessHandler.Autocheck)
		manage.GET("/jobs/:id", accessHandler.GetJob)

		manage.GET("/compliance/status", complianceHandler.Status)
		manage.GET("/compliance/:engineer_id/:lab_id", complianceHandler.Check)
		manage.GET("/dashboard", complianceHandler.Dashboard)
		manage.GET("/reports", complianceHandler.ListReports)
		manage.GET("/reports/:name", complianceHandler.Report)

		manage.POST("/metrics", metricsHandler.Save)
		manage.GET("/metrics/latest", metricsHandler.Latest)

		manage.GET("/engineers", adminHandler.ListEngineers)
		manage.GET("/labs", adminHandler.ListLabs)
		manage.GET("/courses", adminHandler.ListCourses)
		manage.GET("/documents", adminHandler.ListDocuments)
		manage.GET("/completions/:id/certificate", documentHandler.Certificate)
		manage.GET("/documents/:id/file", documentHandler.File)
	}

	// Catalog administration
	admin := protected.Group("/admin")
	admin.Use(middleware.RequirePermission(d.Enforcer, rbac.AdminCatalog))
	{
		admin.POST("/engineers", adminHandler.CreateEngineer)
		admin.POST("/labs", adminHandler.CreateLab)
		admin.POST("/courses", adminHandler.CreateCourse)
		admin.POST("/requirements", adminHandler.UpsertRequirement)
		admin.POST("/completions", adminHandler.RecordCompletion)
		admin.POST("/documents", adminHandler.AddDocument)
		admin.POST("/documents/:id/versions", adminHandler.PublishVersion)
		admin.POST("/acks", adminHandler.Acknowledge)
	}

	// Swagger documentation
	router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	slog.Info("API router initialized", "mode", cfg.Server.Mode)
	return router
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		slog.Info("HTTP request",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"ip", c.ClientIP(),
		)
	}
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
