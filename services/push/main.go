// Сервис пуш-уведомлений (Web Push): API присылает токен подписки, title и body; отправка по VAPID.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/baatchit/internal/config"
	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/middleware"
	"github.com/baatchit/internal/push"
)

func main() {
	logger.SetPrefix("push")
	genVAPID := flag.Bool("gen-vapid", false, "print a new VAPID key pair and exit")
	flag.Parse()

	if *genVAPID {
		priv, pub, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			logger.Errorf("generate VAPID: %v", err)
			os.Exit(1)
		}
		logger.Infof("VAPID_PUBLIC_KEY=%s", pub)
		logger.Infof("VAPID_PRIVATE_KEY=%s", priv)
		return
	}

	config.LoadEnv()
	addr := config.Getenv("PUSH_SERVER_ADDR", ":8082")
	logger.Info("starting push service")

	keys, err := push.LoadVAPIDKeys(config.Getenv("VAPID_KEYS_FILE", ""))
	if err != nil {
		logger.Errorf("VAPID keys: %v", err)
		os.Exit(1)
	}
	sender := push.NewWebPush(keys, config.Getenv("VAPID_SUBSCRIBER", "baatchit-push"))

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/api/vapid-public", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(keys.PublicKey))
	})
	// Отправка только из внутренней сети (API).
	r.With(middleware.InternalOnly).Post("/api/notify", push.NotifyHandler(sender))

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("push server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("push server: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
	logger.Info("push server stopped")
}
