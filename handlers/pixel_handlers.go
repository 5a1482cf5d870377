// api/handlers/pixel_handlers.go
package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// PixelHandlers exposes the storefront's analytics pixel configuration.
// Pixels only holds providers that have an ID.
type PixelHandlers struct {
	Pixels  map[string]string
	SiteURL string
}

func NewPixelHandlers(pixels map[string]string, siteURL string) *PixelHandlers {
	return &PixelHandlers{Pixels: pixels, SiteURL: siteURL}
}

func (h *PixelHandlers) GetPixels(c *gin.Context) {
	pixels := h.Pixels
	if pixels == nil {
		pixels = map[string]string{}
	}
	c.JSON(http.StatusOK, gin.H{"pixels": pixels, "siteUrl": h.SiteURL})
}

// PingFunc checks one dependency.
type PingFunc func(ctx context.Context) error

type HealthHandlers struct {
	Checks map[string]PingFunc
}

func NewHealthHandlers(checks map[string]PingFunc) *HealthHandlers {
	return &HealthHandlers{Checks: checks}
}

// Health answers 200 when every dependency responds and 503 otherwise.
func (h *HealthHandlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	checks := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.Checks[name](ctx); err != nil {
			log.Warn().Err(err).Str("dependency", name).Msg("health check failed")
			checks[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "up"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	c.JSON(status, gin.H{"status": overall, "checks": checks})
}
