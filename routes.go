// api/routes.go
package main

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/oberliner3/jhnyc-sub000/config"
	"github.com/oberliner3/jhnyc-sub000/handlers"
	"github.com/oberliner3/jhnyc-sub000/logging"
	"github.com/oberliner3/jhnyc-sub000/middleware"
)

type routeHandlers struct {
	Auth        *handlers.AuthHandlers
	Experience  *handlers.ExperienceHandlers
	Stats       *handlers.StatsHandlers
	Cart        *handlers.CartHandlers
	DraftOrders *handlers.DraftOrderHandlers
	Checkout    *handlers.CheckoutHandlers
	Pixels      *handlers.PixelHandlers
	Health      *handlers.HealthHandlers
}

func newRouter(cfg *config.Config, h routeHandlers) *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Warn().Err(err).Strs("proxies", cfg.TrustedProxies).Msg("ignoring invalid TRUSTED_PROXIES")
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery(), logging.RequestLogger(), middleware.CORSMiddleware(cfg.FEOrigin))

	r.GET("/health", h.Health.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/checkout", middleware.OptionalAuth(), h.Checkout.Checkout)

	api := r.Group("/api")
	{
		api.POST("/signup", h.Auth.Signup)
		api.POST("/login", h.Auth.Login)
		api.POST("/logout", h.Auth.Logout)

		api.GET("/pixels", h.Pixels.GetPixels)

		api.POST("/experience-tracking",
			middleware.RateLimitByIP(cfg.IngestRateLimit, cfg.IngestRateBurst),
			middleware.OptionalAuth(),
			h.Experience.IngestEvents,
		)

		cart := api.Group("/cart", middleware.OptionalAuth())
		{
			cart.GET("", h.Cart.GetCart)
			cart.DELETE("", h.Cart.ClearCart)
			cart.POST("/items", h.Cart.AddItem)
			cart.PATCH("/items/:itemId", h.Cart.UpdateItem)
			cart.DELETE("/items/:itemId", h.Cart.RemoveItem)
		}

		api.POST("/draft-orders", h.DraftOrders.CreateDraftOrder)
		api.GET("/orders/:number", h.Checkout.GetOrder)

		protected := api.Group("/")
		protected.Use(middleware.AuthRequired(cfg.AuthDefault))
		{
			protected.GET("/profile", h.Auth.Profile)

			stats := protected.Group("/stats")
			{
				stats.GET("/event-counts", h.Stats.GetEventCounts)
				stats.GET("/unique-visitors", h.Stats.GetUniqueVisitors)
				stats.GET("/top-pages", h.Stats.GetTopPages)
				stats.GET("/time-on-page", h.Stats.GetTimeOnPage)
				stats.GET("/web-vitals", h.Stats.GetWebVitals)
				stats.GET("/sessions/active", h.Stats.GetActiveSessions)
			}
		}
	}
	return r
}
