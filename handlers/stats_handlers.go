// api/handlers/stats_handlers.go
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/oberliner3/jhnyc-sub000/models"
	"github.com/oberliner3/jhnyc-sub000/utils"
)

// StatsReader is the aggregate query surface over stored events.
type StatsReader interface {
	GetEventCountsOverTime(ctx context.Context, interval string, start, end time.Time, eventType string) ([]models.EventTypeCountByTime, error)
	GetUniqueVisitorsOverTime(ctx context.Context, interval string, start, end time.Time) ([]models.EventTypeCountByTime, error)
	GetTopPages(ctx context.Context, start, end time.Time, limit uint64) ([]models.TopPathResult, error)
	GetAverageTimeOnPage(ctx context.Context, pageURL string, start, end time.Time) (float64, error)
	GetWebVitals(ctx context.Context, start, end time.Time) ([]models.WebVitalSummary, error)
}

// ActiveSessionCounter counts live sessions.
type ActiveSessionCounter interface {
	CountActiveSessions(ctx context.Context, since time.Time) (int64, error)
}

type StatsHandlers struct {
	Stats    StatsReader
	Sessions ActiveSessionCounter
	Now      func() time.Time
}

func NewStatsHandlers(stats StatsReader, sessions ActiveSessionCounter) *StatsHandlers {
	return &StatsHandlers{Stats: stats, Sessions: sessions, Now: time.Now}
}

func (h *StatsHandlers) timeRange(c *gin.Context) (time.Time, time.Time, bool) {
	start, end, err := utils.ParseTimeRange(c.Query("start"), c.Query("end"), h.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func requireInterval(c *gin.Context) (string, bool) {
	interval := c.Query("interval")
	if interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter is required (e.g., 'Day', 'Hour')"})
		return "", false
	}
	if !utils.IsValidInterval(interval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid interval. Use one of Minute, Hour, Day, Week, Month, Quarter, Year"})
		return "", false
	}
	return interval, true
}

func (h *StatsHandlers) GetEventCounts(c *gin.Context) {
	interval, ok := requireInterval(c)
	if !ok {
		return
	}
	start, end, ok := h.timeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Stats.GetEventCountsOverTime(ctx, interval, start, end, c.Query("eventType"))
	if err != nil {
		log.Error().Err(err).Msg("stats: event counts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve event counts"})
		return
	}
	if results == nil {
		results = []models.EventTypeCountByTime{}
	}
	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetUniqueVisitors(c *gin.Context) {
	interval, ok := requireInterval(c)
	if !ok {
		return
	}
	start, end, ok := h.timeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Stats.GetUniqueVisitorsOverTime(ctx, interval, start, end)
	if err != nil {
		log.Error().Err(err).Msg("stats: unique visitors")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve unique visitors"})
		return
	}
	if results == nil {
		results = []models.EventTypeCountByTime{}
	}
	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetTopPages(c *gin.Context) {
	start, end, ok := h.timeRange(c)
	if !ok {
		return
	}

	limit := uint64(10)
	if v := c.Query("limit"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer between 1 and 1000"})
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Stats.GetTopPages(ctx, start, end, limit)
	if err != nil {
		log.Error().Err(err).Msg("stats: top pages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve top pages"})
		return
	}
	if results == nil {
		results = []models.TopPathResult{}
	}
	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetTimeOnPage(c *gin.Context) {
	start, end, ok := h.timeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	avg, err := h.Stats.GetAverageTimeOnPage(ctx, c.Query("pageUrl"), start, end)
	if err != nil {
		log.Error().Err(err).Msg("stats: time on page")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve time on page"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"averageTimeOnPageMs": avg})
}

func (h *StatsHandlers) GetWebVitals(c *gin.Context) {
	start, end, ok := h.timeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Stats.GetWebVitals(ctx, start, end)
	if err != nil {
		log.Error().Err(err).Msg("stats: web vitals")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve web vitals"})
		return
	}
	if results == nil {
		results = []models.WebVitalSummary{}
	}
	c.JSON(http.StatusOK, results)
}

// GetActiveSessions counts active sessions seen within the last `window`
// (Go duration, default 30m).
func (h *StatsHandlers) GetActiveSessions(c *gin.Context) {
	window := 30 * time.Minute
	if v := c.Query("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "window must be a positive duration such as 15m or 1h"})
			return
		}
		window = d
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	n, err := h.Sessions.CountActiveSessions(ctx, h.Now().Add(-window))
	if err != nil {
		log.Error().Err(err).Msg("stats: active sessions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count active sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"activeSessions": n, "window": window.String()})
}
