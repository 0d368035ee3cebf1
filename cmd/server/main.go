// Command server runs the truegather signaling and media server: the REST
// room API, the WebSocket Signaling Hub, and supporting health/metrics
// endpoints, all behind a single Gin router.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/truegather/backend/internal/api"
	"github.com/truegather/backend/internal/auth"
	"github.com/truegather/backend/internal/config"
	"github.com/truegather/backend/internal/health"
	"github.com/truegather/backend/internal/logging"
	"github.com/truegather/backend/internal/middleware"
	"github.com/truegather/backend/internal/ratelimit"
	"github.com/truegather/backend/internal/signaling"
	"github.com/truegather/backend/internal/store"
	"github.com/truegather/backend/pkg/sfu"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.ValidateEnv()
	if err != nil {
		panic(err)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		panic(err)
	}
	ctx := context.Background()
	logging.Info(ctx, "starting truegather backend", zap.String("go_env", cfg.GoEnv))

	st, err := store.New(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		logging.Fatal(ctx, "failed to connect to room store", zap.Error(err))
	}
	defer st.Close()

	gateway, err := sfu.NewGateway(cfg)
	if err != nil {
		logging.Fatal(ctx, "failed to build media gateway", zap.Error(err))
	}

	authSvc := auth.NewService(cfg.JWTSecret, cfg.JWTExpirySeconds)

	var rlRedisClient *redis.Client
	if !cfg.DevelopmentMode {
		rlRedisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	}
	rateLimiter, err := ratelimit.NewRateLimiter(cfg, rlRedisClient)
	if err != nil {
		logging.Fatal(ctx, "failed to build rate limiter", zap.Error(err))
	}

	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", splitOrigins(cfg.AllowedOrigins))
	hub := signaling.NewHub(gateway, st, authSvc, allowedOrigins)

	if cfg.GoEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.HeaderXCorrelationID},
		AllowCredentials: true,
	}))
	router.Use(rateLimiter.GlobalMiddleware())

	healthHandler := health.NewHandler(st)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiHandler := api.NewHandler(st, authSvc, cfg)
	v1 := router.Group("/api/v1")
	apiHandler.RegisterRoutes(v1)

	router.GET("/ws", func(c *gin.Context) {
		if !rateLimiter.CheckWebSocket(c) {
			return
		}
		hub.ServeWs(c)
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(ctx, "server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := hub.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, "hub shutdown error", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, "http server shutdown error", zap.Error(err))
	}
	logging.Info(ctx, "shutdown complete")
}

func splitOrigins(raw string) []string {
	if raw == "" {
		return []string{"http://localhost:3000"}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
