package handler

import (
	"github.com/GuoMonth/trading-view/internal/config"
	"github.com/GuoMonth/trading-view/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// SetupRouter wires the handlers and middleware into a gin engine
func SetupRouter(
	ohlcHandler *OHLCHandler,
	healthHandler *HealthHandler,
	redisClient *redis.Client,
	cfg *config.Config,
	logger *zap.Logger,
) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))

	router.GET("/health", healthHandler.Health)

	api := router.Group("/api")
	if cfg.RateLimit.Enabled {
		if redisClient != nil {
			api.Use(middleware.RedisRateLimit(redisClient, cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize, logger))
		} else {
			api.Use(middleware.RateLimit(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize))
		}
	}

	cache := middleware.RedisCache(redisClient, middleware.CacheConfig{
		Enabled: cfg.Cache.Enabled,
		TTL:     cfg.Cache.TTL,
		Prefix:  cfg.Cache.Prefix,
	}, logger)

	ohlc := api.Group("/ohlc")
	{
		if cfg.Auth.Enabled {
			ohlc.Use(middleware.AuthMiddleware(cfg.Auth.JWTSecret, logger))
		}

		ohlc.GET("", cache, ohlcHandler.GetAll)
		ohlc.GET("/symbols", cache, ohlcHandler.GetSymbols)
		ohlc.GET("/:symbol", cache, ohlcHandler.GetBySymbol)
		ohlc.GET("/:symbol/range", cache, ohlcHandler.GetByDateRange)
		ohlc.GET("/:symbol/stream", ohlcHandler.Stream)
	}

	// Service-to-service routes (requires service key)
	service := api.Group("/service")
	if cfg.Auth.Enabled {
		service.Use(middleware.ServiceAuthMiddleware(cfg.Auth.ServiceKeyHash, logger))
	}
	{
		service.POST("/ohlc/batch", ohlcHandler.BatchImport)
	}

	return router
}
