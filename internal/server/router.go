package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	api := r.Group("/api/v1")
	{
		api.GET("/session", s.getSession)
		api.POST("/session", s.uploadSession)
		api.DELETE("/session", s.resetSession)
		api.GET("/session/media", s.sessionMedia)
		api.GET("/session/events", s.sessionEvents)

		scenes := api.Group("/session/scenes/:index")
		scenes.PATCH("", s.patchScene)
		scenes.POST("/visual", s.uploadVisual)
		scenes.GET("/visual", s.sceneVisual)
		scenes.POST("/regenerate", s.regenerateScene)

		api.POST("/exports", s.startExport)
		api.GET("/exports/:id", s.exportStatus)
		api.DELETE("/exports/:id", s.cancelExport)
		api.GET("/exports/:id/file", s.exportFile)

		api.GET("/collage", s.getCollage)
		api.GET("/storyboard", s.getStoryboard)
		api.POST("/storyboard", s.importStoryboard)

		api.GET("/playback", s.playback)
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []interface{}{
			"method", strings.ToUpper(c.Request.Method),
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		switch {
		case status >= 500:
			s.log.Error("HTTP request", fields...)
		case status >= 400:
			s.log.Warn("HTTP request", fields...)
		default:
			s.log.Debug("HTTP request", fields...)
		}
	}
}
