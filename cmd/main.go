package main

import (
	"context"
	"net/http"
	"time"

	"chatlink/backend/internal/api/handler"
	"chatlink/backend/internal/chathub"
	"chatlink/backend/internal/config"
	"chatlink/backend/internal/logger"
	"chatlink/backend/internal/metrics"
	"chatlink/backend/internal/models"
	"chatlink/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupDependencies(cfg config.Config) (*gorm.DB, *redis.Client) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect PostgreSQL")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect Redis")
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.Chat{},
		&models.Message{},
		&models.Reaction{},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	log.Info().Msg("database and redis connections established, migrations complete")
	return db, rdb
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file loaded")
	}
	cfg := config.Load()
	logger.Init(cfg.Env)

	log.Info().Str("env", cfg.Env).Msg("starting chatlink backend")

	db, rdb := setupDependencies(cfg)
	s := storage.NewStorageService(db, rdb)

	hub := chathub.NewManagerService(s)
	typing := chathub.NewTypingTracker(hub, cfg.TypingTimeout)
	sessions := chathub.NewSessionService(hub, s, typing)
	friends := chathub.NewFriendService(hub, s)
	router := chathub.NewRouterService(hub, s)
	dispatcher := chathub.NewDispatcher(sessions, friends, router, typing, s)

	// Users left flagged online by a previous unclean shutdown are stale:
	// no connection survives a restart.
	if err := hub.RecoverPresence(); err != nil {
		log.Fatal().Err(err).Msg("presence recovery failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := hub.RunRelay(ctx); err != nil {
			log.Error().Err(err).Msg("event relay stopped")
		}
	}()

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), metrics.GinMiddleware())
	h := handler.NewHandler(hub, dispatcher, cfg)

	r.GET("/token", h.GetToken)
	r.GET("/ws", h.ServeWebSocket)
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	log.Info().Str("addr", server.Addr).Msg("listening")
	if err := server.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
