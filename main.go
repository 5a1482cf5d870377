// api/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/oberliner3/jhnyc-sub000/commerce"
	"github.com/oberliner3/jhnyc-sub000/config"
	"github.com/oberliner3/jhnyc-sub000/database"
	"github.com/oberliner3/jhnyc-sub000/handlers"
	"github.com/oberliner3/jhnyc-sub000/jobs"
	"github.com/oberliner3/jhnyc-sub000/logging"
	"github.com/oberliner3/jhnyc-sub000/store"
	"github.com/oberliner3/jhnyc-sub000/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	utils.SetJWTSecret(cfg.JWTSecretKey)

	if cfg.IsRelease() {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- PostgreSQL (users, sessions, carts, orders) ---
	dbClient, err := database.NewPostgresDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize PostgreSQL database")
	}
	defer dbClient.Close()
	if err := dbClient.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	// --- ClickHouse (experience events) ---
	if !cfg.ClickHouseEnabled() {
		log.Fatal().Msg("CLICKHOUSE_HOST and CLICKHOUSE_DB_NAME must be set")
	}
	chClient, err := database.NewClickHouseDB(database.ClickHouseOptions{
		Host:     cfg.ClickHouseHost,
		Port:     cfg.ClickHouseNativePort,
		Database: cfg.ClickHouseDBName,
		Username: cfg.ClickHouseUsername,
		Password: cfg.ClickHousePassword,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize ClickHouse database")
	}
	defer chClient.Close()
	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
	if err := chClient.EnsureSchema(schemaCtx); err != nil {
		cancelSchema()
		log.Fatal().Err(err).Msg("failed to prepare ClickHouse schema")
	}
	cancelSchema()

	checks := map[string]handlers.PingFunc{
		"postgres":   dbClient.Ping,
		"clickhouse": chClient.Ping,
	}

	// --- Stores ---
	userStore := store.NewUserStore(dbClient.DB)
	sessionStore := store.NewSessionStore(dbClient.DB)
	orderStore := store.NewOrderStore(dbClient.DB)
	experienceStore := store.NewExperienceStore(chClient)
	cartStore := store.NewCartStore(dbClient.DB, cfg.CartTTL)

	var carts store.Carts = cartStore
	var sweptCarts jobs.CartSweeper = cartStore
	if cfg.UseRedisCache() {
		rdb, err := database.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, carts are served from PostgreSQL only")
		} else {
			defer rdb.Close()
			cached := store.NewCachedCarts(cartStore, store.NewCartCache(rdb, cfg.CartTTL))
			carts, sweptCarts = cached, cached
			checks["redis"] = redisPing(rdb)
		}
	}

	geo, err := utils.NewGeoLocator(cfg.GeoIPDBPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.GeoIPDBPath).Msg("GeoIP lookups disabled")
	}
	defer geo.Close()

	var shop *commerce.Client
	if cfg.CommerceEnabled() {
		shop, err = commerce.NewClient(commerce.Config{
			ShopDomain:  cfg.ShopifyShopDomain,
			AccessToken: cfg.ShopifyAccessToken,
			ShopName:    cfg.ShopifyShopName,
			APIVersion:  cfg.ShopifyAPIVersion,
		})
		if err != nil {
			log.Warn().Err(err).Msg("commerce client disabled")
		}
	} else {
		log.Info().Msg("commerce platform not configured, draft orders are disabled")
	}

	// --- Handlers ---
	r := newRouter(cfg, routeHandlers{
		Auth:        handlers.NewAuthHandlers(userStore, cfg.IsRelease()),
		Experience:  handlers.NewExperienceHandlers(experienceStore, sessionStore, geo),
		Stats:       handlers.NewStatsHandlers(experienceStore, sessionStore),
		Cart:        handlers.NewCartHandlers(carts),
		DraftOrders: handlers.NewDraftOrderHandlers(shop),
		Checkout:    handlers.NewCheckoutHandlers(carts, orderStore, shop),
		Pixels:      handlers.NewPixelHandlers(cfg.Pixels(), cfg.PublicSiteURL),
		Health:      handlers.NewHealthHandlers(checks),
	})

	sweeper := jobs.NewSweeper(sweptCarts, sessionStore, jobs.SweeperConfig{
		Schedule:     cfg.CartSweepSchedule,
		AbandonAfter: cfg.CartAbandonAfter,
		SessionIdle:  cfg.SessionIdleTimeout,
	})
	if err := sweeper.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start sweeper")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("storefront API starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	sweeper.Stop(ctx)

	log.Info().Msg("server exited")
}

func redisPing(rdb *redis.Client) handlers.PingFunc {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
