package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/nexis-edu/student-api/api/swagger"
	"github.com/nexis-edu/student-api/internal/handler"
	"github.com/nexis-edu/student-api/internal/identity"
	"github.com/nexis-edu/student-api/internal/middleware"
	"github.com/nexis-edu/student-api/internal/repository"
	"github.com/nexis-edu/student-api/internal/service"
	"github.com/nexis-edu/student-api/pkg/cache"
	"github.com/nexis-edu/student-api/pkg/config"
	"github.com/nexis-edu/student-api/pkg/database"
	"github.com/nexis-edu/student-api/pkg/logger"
	corsmiddleware "github.com/nexis-edu/student-api/pkg/middleware/cors"
	reqidmiddleware "github.com/nexis-edu/student-api/pkg/middleware/requestid"
)

// @title Student Records API
// @version 1.0.0
// @description Student record service; identity is delegated to the auth service per request.
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if cfg.Statistics.CacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, statistics cache disabled", "error", err)
		} else {
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Statistics.CacheTTL, logr, true)
			defer cacheRepo.Close() //nolint:errcheck
		}
	}

	identityClient := identity.NewClient(cfg.Identity, logr)

	studentRepo := repository.NewStudentRepository(db)
	studentSvc := service.NewStudentService(studentRepo, cacheSvc, nil, logr)
	exportSvc := service.NewExportService(studentRepo, logr)

	studentHandler := handler.NewStudentHandler(studentSvc, exportSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	handler.RegisterStudentRoutes(api, identityClient, studentHandler, logr)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
