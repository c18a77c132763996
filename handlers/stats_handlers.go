package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"merlodigital/site/logging"
	"merlodigital/site/middleware"
	"merlodigital/site/models"
	"merlodigital/site/utils"
)

// StatsStore is the read side of the durable event store.
type StatsStore interface {
	ClicksOverTime(ctx context.Context, interval string, start, end time.Time) ([]models.ClickCountByTime, error)
	TopActions(ctx context.Context, start, end time.Time, limit uint64) ([]models.ActionCount, error)
	UniqueVisitors(ctx context.Context, start, end time.Time) (uint64, error)
}

type StatsHandlers struct {
	Store StatsStore
}

func NewStatsHandlers(s StatsStore) *StatsHandlers {
	return &StatsHandlers{Store: s}
}

// Register mounts the stats routes under g behind the maintenance key. Click
// analytics are never served unauthenticated: with an empty keyHash nothing
// is mounted and Register returns false.
func (h *StatsHandlers) Register(g *gin.RouterGroup, keyHash string) bool {
	if keyHash == "" {
		return false
	}
	stats := g.Group("/stats", middleware.MaintenanceKeyRequired(keyHash))
	{
		stats.GET("/clicks", h.ClicksOverTime)
		stats.GET("/top-actions", h.TopActions)
		stats.GET("/unique-visitors", h.UniqueVisitors)
	}
	return true
}

func (h *StatsHandlers) ClicksOverTime(c *gin.Context) {
	interval := c.Query("interval")
	if interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter is required (e.g., 'Day', 'Hour')"})
		return
	}
	if !utils.IsValidInterval(interval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid interval. Use Minute, Hour, Day, Week, Month, Quarter or Year"})
		return
	}
	start, end, ok := parseRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Store.ClicksOverTime(ctx, interval, start, end)
	if err != nil {
		logging.Error().Err(err).Msg("clicks over time query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve click statistics"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) TopActions(c *gin.Context) {
	start, end, ok := parseRange(c)
	if !ok {
		return
	}

	var limit uint64 = 10
	if limitParam := c.Query("limit"); limitParam != "" {
		parsed, err := strconv.ParseUint(limitParam, 10, 64)
		if err != nil || parsed == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'limit' parameter. Must be a positive integer."})
			return
		}
		limit = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Store.TopActions(ctx, start, end, limit)
	if err != nil {
		logging.Error().Err(err).Msg("top actions query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve top actions"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) UniqueVisitors(c *gin.Context) {
	start, end, ok := parseRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	n, err := h.Store.UniqueVisitors(ctx, start, end)
	if err != nil {
		logging.Error().Err(err).Msg("unique visitors query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve unique visitors"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"startDate":      start.Format(time.RFC3339),
		"endDate":        end.Format(time.RFC3339),
		"uniqueVisitors": n,
	})
}

// parseRange reads the RFC3339 start and end query parameters, defaulting
// to the last seven days. It writes the 400 response itself.
func parseRange(c *gin.Context) (start, end time.Time, ok bool) {
	now := time.Now().UTC()
	start, end = now.Add(-7*24*time.Hour), now

	var err error
	if p := c.Query("start"); p != "" {
		if start, err = time.Parse(time.RFC3339, p); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'start' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return start, end, false
		}
	}
	if p := c.Query("end"); p != "" {
		if end, err = time.Parse(time.RFC3339, p); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'end' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return start, end, false
		}
	}
	if end.Before(start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "'end' must not be before 'start'"})
		return start, end, false
	}
	return start, end, true
}
