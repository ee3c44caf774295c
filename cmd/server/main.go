package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"sidehustle-chat/internal/chat"
	"sidehustle-chat/internal/config"
	"sidehustle-chat/internal/db"
	"sidehustle-chat/internal/health"
	"sidehustle-chat/internal/logger"
	"sidehustle-chat/internal/media"
	myMiddleware "sidehustle-chat/internal/middleware"
	"sidehustle-chat/internal/user"
)

func main() {
	// 1. Config & flags
	addr := flag.String("addr", ":8080", "http service address")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		// Config decides the log format, so fall back to the console writer.
		bootLog := logger.New(true, "info")
		bootLog.Fatal().Err(err).Msg("❌ Invalid configuration")
	}
	log := logger.New(cfg.IsDevelopment(), cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	database, err := db.NewDatabase(db.Dialect(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("❌ Failed to connect to DB")
	}
	defer database.Close()
	log.Info().Str("driver", cfg.DBDriver).Msg("✅ Connected to database")

	if err := database.AutoMigrate(); err != nil {
		log.Fatal().Err(err).Msg("❌ Migration failed")
	}
	log.Info().Msg("✅ Database schema initialized")

	// 3. Connect to Redis (optional: without it fan-out stays in-process)
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("❌ Failed to connect to Redis")
		}
		defer redisClient.Close()
		log.Info().Msg("✅ Connected to Redis")
	} else {
		log.Warn().Msg("⚠️ REDIS_ADDR not set, realtime fan-out limited to this instance")
	}

	// 4. User feature (also the identity and moderation collaborator)
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret, cfg.JWTTTL)
	userHandler := user.NewHandler(userService)

	// 5. Chat feature
	hub := chat.NewHub(redisClient, cfg.RedisChannel, log, chat.WithReorderWindow(cfg.ReorderWindow))

	tombstones := chat.ShowTombstones
	if !cfg.ShowTombstones {
		tombstones = chat.HideTombstones
	}
	chatService := chat.NewService(
		chat.NewRepository(database),
		userService,
		userService,
		media.NewURLResolver(cfg.MediaBaseURL),
		hub,
		log,
		chat.WithTombstonePolicy(tombstones),
	)
	chatHandler := chat.NewHandler(chatService, hub, log)

	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	healthHandler := health.NewHandler().Add("database", database, true)
	if redisClient != nil {
		healthHandler.Add("redis", health.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}), false)
	}

	// 6. Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(myMiddleware.Logger(log))
	r.Use(middleware.Recoverer)
	r.Use(myMiddleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Public routes
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Method(http.MethodGet, "/health", healthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Protected routes (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)
		chatHandler.Routes(r)
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// 7. Run hub, Redis bridge and HTTP server until a signal arrives
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return hub.SubscribeToRedis(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", *addr).Str("env", cfg.Env).Msg("🚀 Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("🛑 Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("❌ Server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("👋 Server stopped")
}
