package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/baatchit/internal/auth"
	"github.com/baatchit/internal/blob"
	"github.com/baatchit/internal/call"
	"github.com/baatchit/internal/config"
	"github.com/baatchit/internal/handler"
	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/middleware"
	"github.com/baatchit/internal/model"
	"github.com/baatchit/internal/push"
	"github.com/baatchit/internal/repository"
	"github.com/baatchit/internal/service"
	"github.com/baatchit/internal/startup"
	"github.com/baatchit/internal/storage"
	"github.com/baatchit/internal/storage/memory"
	"github.com/baatchit/internal/ws"
	"github.com/baatchit/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "apply migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	seedUser := flag.String("seed-user", "", "create a user with this username, print a 24h token and exit")
	flag.Parse()

	logger.Info("starting API service")
	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}

	if *dev {
		embeddedDB, err := startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
	poolCfg.MinConns = 2

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	migCtx, migCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = startup.ApplyMigrations(migCtx, pool, migrations.Files)
	migCancel()
	if err != nil {
		logger.Errorf("migrations: %v", err)
		os.Exit(1)
	}
	if *migrate {
		return
	}
	if *seedUser != "" {
		if err := seed(pool, cfg.JWTSecret, *seedUser); err != nil {
			logger.Errorf("seed user: %v", err)
			os.Exit(1)
		}
		return
	}

	userRepo := repository.NewUserRepository(pool)
	chatRepo := repository.NewChatRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	reactRepo := repository.NewReactionRepository(pool)
	pinnedRepo := repository.NewPinnedRepository(pool)
	pollRepo := repository.NewPollRepository(pool)
	unreadRepo := repository.NewUnreadRepository(pool)
	callRepo := repository.NewCallRepository(pool)

	// После рестарта никто не подключён.
	resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := userRepo.ResetOnline(resetCtx); err != nil {
		logger.Errorf("reset online status: %v", err)
	}
	resetCancel()
	logger.Info("database connected, migrations applied")

	var limiter storage.EventLimiter
	if cfg.RedisURL != "" {
		limiter = startup.ConnectRedisWithRetry(cfg.RedisURL, cfg.WSEventRate, cfg.WSEventWindow, 30*time.Second, "")
		logger.Info("rate limiter: redis")
	} else {
		limiter = memory.New(cfg.WSEventRate, cfg.WSEventWindow)
	}
	defer limiter.Close()

	var (
		blobs     blob.Store
		diskStore *blob.DiskStore
	)
	if cfg.BlobServiceURL != "" {
		blobs = blob.NewClient(cfg.BlobServiceURL)
	} else {
		diskStore = blob.NewDiskStore(cfg.BlobDir, cfg.BlobPublicURL)
		blobs = diskStore
	}

	var (
		notifier  ws.PushNotifier
		pushQueue *push.Queue
	)
	if pushClient := push.NewClient(cfg.PushServiceURL); pushClient.Enabled() {
		pushQueue = push.NewQueue(pushClient, cfg.PushQueueSize, cfg.PushWorkers, func(ctx context.Context, token string) {
			if err := userRepo.ClearPushToken(ctx, token); err != nil {
				logger.Errorf("clear push token: %v", err)
			}
		})
		pushQueue.Start()
		notifier = pushQueue
	} else {
		logger.Info("PUSH_SERVICE_URL not set, push notifications disabled")
	}

	hub := ws.NewHub(ws.NewRegistry(), ws.Stores{
		Users:     userRepo,
		Chats:     chatRepo,
		Messages:  msgRepo,
		Reactions: reactRepo,
		Pins:      pinnedRepo,
		Polls:     pollRepo,
		Unread:    unreadRepo,
	}, ws.Options{
		MaxConns: cfg.MaxWSConnections,
		Blobs:    blobs,
		Push:     notifier,
		Limiter:  limiter,
	})
	calls := call.NewService(hub, callRepo, userRepo, notifier)
	hub.SetCallHandler(calls)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	var bgWg sync.WaitGroup
	bgWg.Add(2)
	go func() {
		defer bgWg.Done()
		hub.Run(hubCtx)
	}()
	go func() {
		defer bgWg.Done()
		call.NewReaper(calls, cfg.CallRingTimeout, cfg.CallReapInterval).Run(hubCtx)
	}()

	chatSvc := service.NewChatService(chatRepo, userRepo, hub, blobs)

	chatH := handler.NewChatHandler(chatSvc, chatRepo, cfg.MaxUploadSize)
	msgH := handler.NewMessageHandler(msgRepo, pinnedRepo, unreadRepo, chatRepo, hub, cfg.MaxUploadSize)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins, cfg.WSMaxMessageSize)
	configH := handler.NewConfigHandler(cfg)
	pushH := handler.NewPushHandler(userRepo)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket: иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/config/call", configH.GetCallConfig)
	if diskStore != nil {
		r.Get("/api/files/{folder}/{name}", blob.NewHandler(diskStore, cfg.MaxUploadSize).Serve)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(auth.NewVerifier(cfg.JWTSecret), userRepo))
		r.Get("/ws", wsH.ServeWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(limiter, "api"))
			r.Get("/api/chats", chatH.ListChats)
			r.Post("/api/chats", chatH.CreateChat)
			r.Patch("/api/chats/{id}", chatH.UpdateGroup)
			r.Post("/api/chats/{id}/members", chatH.AddMembers)
			r.Delete("/api/chats/{id}/members", chatH.RemoveMembers)
			r.Get("/api/chats/{chatId}/messages", msgH.GetMessages)
			r.Get("/api/chats/{chatId}/pinned", msgH.GetPinned)
			r.Get("/api/chats/{chatId}/unread", msgH.GetUnread)
			r.Get("/api/chats/{chatId}/attachments", msgH.GetAttachments)
			r.Post("/api/chats/{chatId}/attachments", msgH.SendAttachments)
			r.Put("/api/users/me/push", pushH.Update)
		})
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	bgWg.Wait()
	logger.Info("hub stopped")
	if pushQueue != nil {
		pushQueue.Stop()
		logger.Info("push queue drained")
	}
}

// seed создаёт пользователя и печатает токен для /ws и REST (аутентификация вне этого сервиса).
func seed(pool *pgxpool.Pool, secret, username string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := time.Now().UTC()
	u := &model.User{
		ID:                   uuid.New().String(),
		Username:             username,
		LastSeen:             now,
		NotificationsEnabled: true,
		CreatedAt:            now,
	}
	if err := repository.NewUserRepository(pool).Create(ctx, u); err != nil {
		return err
	}
	token, err := auth.NewVerifier(secret).Issue(u.ID, 24*time.Hour)
	if err != nil {
		return err
	}
	logger.Infof("user %s id=%s token=%s", username, u.ID, token)
	// Логгер асинхронный: даём записи уйти до выхода.
	time.Sleep(100 * time.Millisecond)
	return nil
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "baatchit"
		password = "baatchit_secret"
		database = "baatchit"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
