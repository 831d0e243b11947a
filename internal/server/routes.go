package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"

	"github.com/openmined/docsync/internal/docstore/remote"
)

func SetupRoutes(cfg *Config, backend Backend) (http.Handler, error) {
	r := gin.New()
	r.MaxMultipartMemory = 8 << 20 // 8 MiB

	docsH := NewDocsHandler(backend)

	httpLogger := slog.Default().WithGroup("http")
	r.Use(slogGin.NewWithConfig(httpLogger, slogGin.Config{
		DefaultLevel:     slog.LevelInfo,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
	}))
	r.Use(gin.Recovery())
	r.Use(SecurityHeaders(cfg.TLS()))
	r.Use(gzip.Gzip(gzip.BestSpeed, gzip.WithExcludedPaths([]string{remote.PathContent})))
	r.Use(cors.Default())

	r.GET("/", IndexHandler)
	r.GET(remote.PathHealth, HealthHandler)

	v1 := r.Group("/api/v1")
	if cfg.RateLimit != "" {
		limit, err := RateLimiter(cfg.RateLimit)
		if err != nil {
			return nil, err
		}
		v1.Use(limit)
	}
	{
		v1.GET("/share", docsH.Share)
		v1.GET("/docs", docsH.List)
		v1.GET("/docs/get", docsH.Get)
		v1.GET("/docs/content", docsH.Content)
		v1.POST("/docs/ingest", maxBody(cfg.MaxUploadBytes), docsH.Ingest)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler(), nil
}

func maxBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
