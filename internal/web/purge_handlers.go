// internal/web/purge_handlers.go
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"sensorqa/internal/monitoring"
)

func (s *Server) setupMaintenanceRoutes(api *gin.RouterGroup) {
	maintenance := api.Group("/maintenance")
	{
		maintenance.POST("/purge", s.purgeHistory)
		maintenance.POST("/compact", s.compactDatabase)
	}
}

// POST /api/maintenance/purge?older_than=720h
func (s *Server) purgeHistory(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}

	retention := s.config.Database.HistoryRetention
	if v := c.Query("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "older_than must be a positive duration"})
			return
		}
		retention = d
	}
	if retention <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no retention configured; pass older_than"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	deleted, err := monitoring.PurgeHistory(ctx, s.store, retention)
	if s.metrics != nil {
		s.metrics.RecordDatabaseOperation("purge", err)
	}
	if err != nil {
		logrus.WithError(err).Error("Failed to purge run history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to purge run history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Run history purged",
		"deleted":   deleted,
		"retention": retention.String(),
		"timestamp": time.Now(),
	})
}

// POST /api/maintenance/compact
func (s *Server) compactDatabase(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	if s.engine.ActiveRun() != "" {
		c.JSON(http.StatusConflict, gin.H{"error": "cannot compact while a run is in progress"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	err := s.store.CompactDatabase(ctx)
	if s.metrics != nil {
		s.metrics.RecordDatabaseOperation("compact", err)
	}
	if err != nil {
		logrus.WithError(err).Error("Database compaction failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database compaction failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Database compacted",
		"timestamp": time.Now(),
	})
}
