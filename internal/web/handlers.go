// internal/web/handlers.go
package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"sensorqa/internal/database"
	"sensorqa/internal/failover"
	"sensorqa/internal/monitoring"
)

const defaultRunLimit = 50

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"timestamp":  time.Now(),
		"version":    Version,
		"active_run": s.engine.ActiveRun(),
	})
}

func (s *Server) requireStore(c *gin.Context) bool {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Run history is not configured"})
		return false
	}
	return true
}

func (s *Server) getStats(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	stats, err := s.store.GetDatabaseStats(c.Request.Context())
	if err != nil {
		logrus.WithError(err).Error("Failed to get database stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (s *Server) getRuns(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}

	filters := database.RunFilters{Limit: defaultRunLimit}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		filters.Limit = n
	}
	if v := c.Query("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an RFC3339 timestamp"})
			return
		}
		filters.Since = &since
	}

	runs, err := s.store.ListRuns(c.Request.Context(), filters)
	if err != nil {
		logrus.WithError(err).Error("Failed to list runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  runs,
		"count": len(runs),
	})
}

func (s *Server) getRun(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	s.writeRun(c, c.Param("id"))
}

func (s *Server) writeRun(c *gin.Context, id string) {
	run, err := s.store.GetRun(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
			return
		}
		logrus.WithError(err).Error("Failed to get run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get run"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": run})
}

// getLatestRun prefers the run held in memory and falls back to history.
func (s *Server) getLatestRun(c *gin.Context) {
	if run := s.engine.LastRun(); run != nil {
		c.JSON(http.StatusOK, gin.H{"data": run})
		return
	}
	if !s.requireStore(c) {
		return
	}
	runs, err := s.store.ListRuns(c.Request.Context(), database.RunFilters{Limit: 1})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list runs"})
		return
	}
	if len(runs) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No runs recorded"})
		return
	}
	s.writeRun(c, runs[0].ID)
}

func (s *Server) triggerRun(c *gin.Context) {
	// The run outlives the request but not the server.
	id, err := s.engine.RunAsync(s.baseCtx, database.TriggerAPI)
	if err != nil {
		if errors.Is(err, monitoring.ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{
				"error":      err.Error(),
				"active_run": s.engine.ActiveRun(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	logrus.WithField("run_id", id).Info("Run triggered via API")
	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"id": id}})
}

func (s *Server) getSensors(c *gin.Context) {
	sensors, _, err := monitoring.LoadInventory(s.config)
	if err != nil {
		logrus.WithError(err).Error("Failed to load sensor registry")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  sensors,
		"count": len(sensors),
	})
}

func (s *Server) getCatalog(c *gin.Context) {
	_, catalog, err := monitoring.LoadInventory(s.config)
	if err != nil {
		logrus.WithError(err).Error("Failed to load test catalog")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  catalog.Categories,
		"count": catalog.Len(),
	})
}

func (s *Server) getSensorHistory(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}

	since := time.Now().Add(-7 * 24 * time.Hour)
	if v := c.Query("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an RFC3339 timestamp"})
			return
		}
		since = parsed
	}

	history, err := s.store.GetSensorHistory(c.Request.Context(), c.Param("hostname"), since)
	if err != nil {
		logrus.WithError(err).Error("Failed to get sensor history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get sensor history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  history,
		"count": len(history),
	})
}

func (s *Server) checkConnectivity(c *gin.Context) {
	sensors, _, err := monitoring.LoadInventory(s.config)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	prober := s.engine.Prober()
	policy := monitoring.NewPolicy(s.config, prober, failover.NewLog())
	results := monitoring.CheckConnectivity(c.Request.Context(), sensors, prober, policy, s.config.Runner.Workers)

	c.JSON(http.StatusOK, gin.H{
		"data":        results,
		"count":       len(results),
		"unreachable": monitoring.CountUnreachable(results),
	})
}
