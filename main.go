package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gorilla/mux"

	"github.com/pliu/nowchat/internal/cache"
	"github.com/pliu/nowchat/internal/config"
	"github.com/pliu/nowchat/internal/handlers"
	"github.com/pliu/nowchat/internal/logging"
	"github.com/pliu/nowchat/internal/middleware"
	"github.com/pliu/nowchat/internal/store/cachestore"
	"github.com/pliu/nowchat/internal/store/sqlstore"
	"github.com/pliu/nowchat/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults and environment only when empty)")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)
	slog.SetDefault(logger)
	logger.Info("starting nowchat", "addr", cfg.Server.Addr, "db_driver", cfg.Database.Driver, "redis", cfg.Redis.Addr)

	// Initialize Database
	db, err := sqlstore.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}

	// Initialize Cache. An unreachable Redis only degrades reads.
	redisClient := cache.NewClient(cache.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	snapshots := cache.New(redisClient, cfg.Cache.Prefix, cfg.Cache.TTL)
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := snapshots.Ping(pingCtx); err != nil {
		logger.Warn("redis unreachable, running degraded", "error", err)
	}
	cancel()

	chat := cachestore.New(db, snapshots,
		cachestore.WithTimeout(cfg.Hub.StoreTimeout),
		cachestore.WithLogger(logger),
	)

	// Initialize WebSocket Hub
	hub := ws.NewHub(chat, ws.Config{
		SendBuffer:     cfg.Hub.SendBuffer,
		MaxMessageSize: cfg.Hub.MaxMessageSize,
		RatePerSecond:  cfg.Hub.RateLimit.PerSecond,
		RateBurst:      cfg.Hub.RateLimit.Burst,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger)
	go hub.Run(context.Background())

	// Initialize Handlers
	userHandler := &handlers.UserHandler{Store: chat, Logger: logger}
	messageHandler := &handlers.MessageHandler{Store: chat, Hub: hub, Logger: logger}
	systemHandler := &handlers.SystemHandler{
		DB:       chat,
		Cache:    snapshots,
		Logger:   logger,
		Stats:    snapshots.Stats,
		Reset:    snapshots.ResetStats,
		TTL:      snapshots.TTL,
		Hub:      hub.Stats,
		Degraded: chat.Degraded,
	}

	r := mux.NewRouter()
	r.Use(middleware.Logging(logger))

	// API Endpoints
	r.HandleFunc("/users", userHandler.ListUsers).Methods("GET")
	r.HandleFunc("/users", userHandler.CreateUser).Methods("POST")
	r.HandleFunc("/users/{id}", userHandler.GetUser).Methods("GET")
	r.HandleFunc("/users/{id}", userHandler.UpdateUser).Methods("PUT")
	r.HandleFunc("/users/{id}", userHandler.DeleteUser).Methods("DELETE")
	r.HandleFunc("/messages", messageHandler.SendMessage).Methods("POST")
	r.HandleFunc("/messages/{a}/{b}", messageHandler.GetChatMessages).Methods("GET")
	r.HandleFunc("/health", systemHandler.Health).Methods("GET")
	r.HandleFunc("/stats", systemHandler.GetStats).Methods("GET")
	r.HandleFunc("/stats/reset", systemHandler.ResetStats).Methods("POST")

	// WebSocket Endpoint
	r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r)
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           middleware.CORS(cfg.Server.AllowedOrigins)(r),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.Server.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			// One operation so the server drains before the stores close.
			"nowchat": func(ctx context.Context) error {
				logger.Info("graceful shutdown initiated")
				var errs []error
				if err := srv.Shutdown(ctx); err != nil {
					errs = append(errs, err)
				}
				if err := hub.Shutdown(remaining(ctx, cfg.Server.ShutdownTimeout)); err != nil {
					errs = append(errs, err)
				}
				if err := snapshots.Close(); err != nil {
					errs = append(errs, err)
				}
				if err := db.Close(); err != nil {
					errs = append(errs, err)
				}
				return errors.Join(errs...)
			},
		},
	)

	exitCode := <-wait
	logger.Info("shutdown complete", "exit_code", exitCode)
	os.Exit(exitCode)
}

func remaining(ctx context.Context, fallback time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
		return 0
	}
	return fallback
}
