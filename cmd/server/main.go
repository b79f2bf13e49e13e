package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"go-messenger/internal/chat"
	"go-messenger/internal/config"
	"go-messenger/internal/db"
	"go-messenger/internal/delivery"
	"go-messenger/internal/metrics"
	mymw "go-messenger/internal/middleware"
	"go-messenger/internal/presence"
	"go-messenger/internal/story"
	"go-messenger/internal/user"
)

func main() {
	// 1. Config & logging
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("load config")
	}

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.DevLog {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// 2. Platform layer: postgres + redis
	database, err := db.NewDatabase(cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to postgres")
	}
	log.Info().Msg("connected to postgres")

	if err := database.AutoMigrate(); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}
	log.Info().Msg("database schema ready")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		log.Fatal().Err(err).Msg("connect to redis")
	}
	log.Info().Msg("connected to redis")

	// 3. User feature
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret, cfg.TokenTTL)
	userHandler := user.NewHandler(userService)

	// 4. Messaging core
	chatStore := chat.NewRepository(database.Conn)
	chatService := chat.NewService(chatStore, log, cfg.PageSizeDefault, cfg.PageSizeMax)

	presenceTracker := presence.NewRedisTracker(redisClient)
	deliveryTracker := delivery.NewTracker(chatStore, presenceTracker, log)

	hub := chat.NewHub(redisClient, log)
	go hub.Run()
	go hub.SubscribeToRedis(context.Background())

	chatHandler := chat.NewHandler(hub, chatService, presenceTracker, deliveryTracker, userRepo, userService, log)

	storyService := story.NewService(story.NewRepository(database.Conn))
	storyHandler := story.NewHandler(storyService)

	authMiddleware := mymw.NewAuthMiddleware(userService)

	// 5. Routes
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	// Public
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// The gateway authenticates its own handshake, so /ws is not behind the
	// HTTP auth middleware.
	r.Get("/ws", chatHandler.ServeWs)

	// Protected. The timeout stays off /ws; long-lived sockets manage their
	// own deadlines.
	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		r.Use(authMiddleware.Handle)

		r.Get("/api/users/search", userHandler.SearchUsers)
		r.Get("/api/users/me", userHandler.Me)
		r.Post("/api/users/activity", userHandler.Activity)

		r.Get("/api/conversations", chatHandler.ListConversations)
		r.Post("/api/conversations", chatHandler.StartConversation)
		r.Get("/api/conversations/{id}/messages", chatHandler.GetChatHistory)
		r.Post("/api/conversations/{id}/messages", chatHandler.PostMessage)

		r.Get("/api/stories", storyHandler.ListStories)
		r.Post("/api/stories", storyHandler.PostStory)
		r.Post("/api/stories/{id}/view", storyHandler.ViewStory)
	})

	log.Info().Str("addr", cfg.Addr).Msg("server starting")
	if err := http.ListenAndServe(cfg.Addr, r); err != nil {
		log.Fatal().Err(err).Msg("listen and serve")
	}
}
