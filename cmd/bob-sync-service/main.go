package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/bobsync_backend/bobsync"
	"github.com/mmdatafocus/bobsync_backend/config"
	"github.com/mmdatafocus/bobsync_backend/middlewares"
	"github.com/mmdatafocus/bobsync_backend/models"
	"github.com/mmdatafocus/bobsync_backend/sheet"
	"github.com/mmdatafocus/bobsync_backend/utils"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("BOB_SYNC_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	workbookPath := strings.TrimSpace(os.Getenv("BOB_WORKBOOK_PATH"))
	if workbookPath == "" {
		workbookPath = "bobsync.xlsx"
	}
	workbook, err := sheet.OpenXLSX(workbookPath)
	if err != nil {
		logger.WithError(err).WithFields(logrus.Fields{"path": workbookPath}).Fatal("cannot open workbook")
	}
	defer workbook.Close()

	// DB is wired in after the server starts listening; the readiness
	// middleware keeps traffic out until then.
	orchestrator := &bobsync.Orchestrator{
		Store:            bobsync.NewRedisPropertyStore(),
		Lock:             bobsync.NewRedisLocker(),
		Sheets:           workbook,
		Scheduler:        bobsync.PubSubScheduler{},
		Pacer:            bobsync.NewPacer(utils.IntFromEnv("BOB_RATE_LIMIT_PER_MIN", 10)),
		NewHandler:       bobsync.NewRowHandlerFactory(workbook),
		ChunkSize:        utils.IntFromEnv("BOB_CHUNK_SIZE", 5),
		MaxChunkDuration: time.Duration(utils.IntFromEnv("BOB_MAX_CHUNK_SECONDS", 50)) * time.Second,
	}

	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = utils.SplitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))
	r.Use(func(c *gin.Context) {
		if c.GetHeader("token") == "" {
			auth := strings.TrimSpace(c.GetHeader("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				token := strings.TrimSpace(auth[7:])
				if token != "" {
					c.Request.Header.Set("token", token)
				}
			}
		}
		c.Next()
	})
	r.Use(middlewares.SessionMiddleware())
	r.Use(requestLogger(logger))
	r.Use(gin.Recovery())

	// API endpoints (Bob Sync)
	r.GET("/api/integrations/bob/status", bobsync.StatusHandler(orchestrator))
	r.POST("/api/integrations/bob/connect", bobsync.ConnectHandler())
	r.POST("/api/integrations/bob/disconnect", bobsync.DisconnectHandler())
	r.POST("/api/integrations/bob/refresh/:target", bobsync.RefreshHandler(workbook))
	r.POST("/api/integrations/bob/validate", bobsync.ValidateHandler(workbook))
	r.POST("/api/integrations/bob/bulk-update", bobsync.BulkUpdateHandler(orchestrator))
	r.POST("/api/integrations/bob/history/:table", bobsync.HistoryInsertStartHandler(orchestrator))
	r.POST("/api/integrations/bob/cancel", bobsync.CancelHandler(orchestrator))
	r.POST("/api/integrations/bob/retry-failed", bobsync.RetryFailedHandler(orchestrator))
	// DB access deferred to request time, the pool is not up yet when
	// routes are registered.
	r.GET("/api/integrations/bob/runs", func(c *gin.Context) {
		bobsync.RunsHandler(config.GetDB())(c)
	})
	r.GET("/api/integrations/bob/runs/:id", func(c *gin.Context) {
		bobsync.RunDetailHandler(config.GetDB())(c)
	})

	// Pub/Sub push endpoint for the chunk worker.
	r.POST("/pubsub/bob-sync", bobsync.PubSubPushHandler(orchestrator))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	orchestrator.Runs = &bobsync.GormRunRecorder{DB: db}
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	processor := bobsync.NewChunkDirectProcessor(orchestrator)
	processor.Start(sigCtx)

	if err := bobsync.RunChunkPullWorker(orchestrator); err != nil {
		logger.WithFields(logrus.Fields{"field": "pubsub"}).Error("pull worker failed to start: " + err.Error())
	}

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		logger.WithFields(logrus.Fields{
			"status":         c.Writer.Status(),
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"latency":        latency.String(),
			"correlation_id": cid,
		}).Info("request")
	}
}
