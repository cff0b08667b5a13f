package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/aggregate"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/logging"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/store"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/websocket"
)

const (
	defaultHours = 24
	maxHours     = 168 // one week

	defaultLimit = 20
	maxLimit     = 100
)

var validPeriods = map[string]bool{
	"minute": true,
	"hour":   true,
	"day":    true,
}

// Handlers holds the HTTP handler dependencies
type Handlers struct {
	store  *store.Store
	cache  *aggregate.Cache
	hub    *websocket.Hub
	logger logging.Logger
}

// NewHandlers creates the API handler set
func NewHandlers(st *store.Store, cache *aggregate.Cache, hub *websocket.Hub, logger logging.Logger) *Handlers {
	return &Handlers{store: st, cache: cache, hub: hub, logger: logger}
}

// SetupRoutes registers the API routes on the router
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/sentiment/distribution", h.GetDistribution)
		api.GET("/sentiment/aggregate", h.GetAggregate)
		api.GET("/posts", h.GetPosts)
		api.GET("/alerts", h.GetAlerts)
	}
	router.GET("/ws/live", h.ServeWS)
}

// GetDistribution returns sentiment distribution over the last N hours
// GET /api/sentiment/distribution?hours=24&source=reddit
func (h *Handlers) GetDistribution(c *gin.Context) {
	hours, ok := h.parseHours(c)
	if !ok {
		return
	}
	source := c.Query("source")

	dist, err := h.cache.Distribution(c.Request.Context(), hours, source)
	if err != nil {
		h.logger.WithError(err).Error("Failed to compute sentiment distribution")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute distribution"})
		return
	}
	c.JSON(http.StatusOK, dist)
}

// GetAggregate returns the bucketed sentiment series. The window is either
// an explicit start/end pair or the last N hours.
// GET /api/sentiment/aggregate?period=hour&hours=24&source=reddit
func (h *Handlers) GetAggregate(c *gin.Context) {
	period := c.DefaultQuery("period", "hour")
	if !validPeriods[period] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "period must be one of minute, hour, day"})
		return
	}

	hours, ok := h.parseHours(c)
	if !ok {
		return
	}
	source := c.Query("source")

	end := time.Now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)
	if rawStart, rawEnd := c.Query("start"), c.Query("end"); rawStart != "" || rawEnd != "" {
		parsedStart, parsedEnd, err := parseRange(rawStart, rawEnd)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		end = parsedEnd
		if !parsedStart.IsZero() {
			start = parsedStart
		} else {
			start = end.Add(-time.Duration(hours) * time.Hour)
		}
	}

	points, err := h.cache.SeriesCached(c.Request.Context(), period, start, end, source)
	if err != nil {
		h.logger.WithError(err).Error("Failed to compute sentiment series")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute aggregate series"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"period": period,
		"start":  start,
		"end":    end,
		"source": source,
		"series": points,
	})
}

// GetPosts returns recent posts with their analysis, newest first
// GET /api/posts?limit=20&offset=0&source=reddit&sentiment=negative
func (h *Handlers) GetPosts(c *gin.Context) {
	limit, ok := h.parseLimit(c)
	if !ok {
		return
	}

	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
		return
	}

	sentiment := c.Query("sentiment")
	if sentiment != "" && sentiment != "positive" && sentiment != "negative" && sentiment != "neutral" && sentiment != "unknown" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sentiment filter"})
		return
	}

	filter := store.PostFilter{
		Limit:     limit,
		Offset:    offset,
		Source:    c.Query("source"),
		Sentiment: sentiment,
	}
	if rawStart, rawEnd := c.Query("start"), c.Query("end"); rawStart != "" || rawEnd != "" {
		start, end, err := parseRange(rawStart, rawEnd)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Start, filter.End = start, end
	}

	posts, err := h.store.Posts(c.Request.Context(), filter)
	if err != nil {
		h.logger.WithError(err).Error("Failed to query posts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query posts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"posts": posts,
		"count": len(posts),
	})
}

// GetAlerts returns recently triggered alerts
// GET /api/alerts?limit=20
func (h *Handlers) GetAlerts(c *gin.Context) {
	limit, ok := h.parseLimit(c)
	if !ok {
		return
	}

	alerts, err := h.store.RecentAlerts(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to query alerts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query alerts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// ServeWS upgrades the connection and attaches it to the broadcast hub
// GET /ws/live
func (h *Handlers) ServeWS(c *gin.Context) {
	h.hub.ServeWS(c.Writer, c.Request)
}

func (h *Handlers) parseHours(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("hours", strconv.Itoa(defaultHours))
	hours, err := strconv.Atoi(raw)
	if err != nil || hours < 1 || hours > maxHours {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be an integer between 1 and 168"})
		return 0, false
	}
	return hours, true
}

// parseRange reads optional RFC3339 start/end params. A missing start stays
// zero (caller decides the default); a missing end means now.
func parseRange(rawStart, rawEnd string) (time.Time, time.Time, error) {
	var start time.Time
	end := time.Now().UTC()

	var err error
	if rawStart != "" {
		if start, err = time.Parse(time.RFC3339, rawStart); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("start must be an RFC3339 timestamp")
		}
	}
	if rawEnd != "" {
		if end, err = time.Parse(time.RFC3339, rawEnd); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("end must be an RFC3339 timestamp")
		}
	}
	if !start.IsZero() && end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end must be after start")
	}
	return start, end, nil
}

func (h *Handlers) parseLimit(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("limit", strconv.Itoa(defaultLimit))
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > maxLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer between 1 and 100"})
		return 0, false
	}
	return limit, true
}
