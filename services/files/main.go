// Сервис хранения файлов: загрузка, раздача и удаление по publicId (голосовые, вложения, аватары групп).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/baatchit/internal/blob"
	"github.com/baatchit/internal/config"
	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/middleware"
)

func main() {
	logger.SetPrefix("files")
	config.LoadEnv()
	uploadDir := config.Getenv("BLOB_DIR", "./uploads")
	publicURL := config.Getenv("BLOB_PUBLIC_URL", "/files")
	addr := config.Getenv("FILES_SERVER_ADDR", ":8083")
	maxMB := 20
	if n, err := strconv.Atoi(config.Getenv("MAX_UPLOAD_SIZE_MB", "")); err == nil && n > 0 {
		maxMB = n
	}
	logger.Infof("starting files service: dir=%s max_upload_mb=%d", uploadDir, maxMB)

	store := blob.NewDiskStore(uploadDir, publicURL)
	h := blob.NewHandler(store, int64(maxMB)<<20)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	// Раздача публичная, загрузка и удаление только из внутренней сети.
	h.Routes(r, middleware.InternalOnly)

	srv := &http.Server{Addr: addr, Handler: r, ReadTimeout: 30 * time.Second, WriteTimeout: 60 * time.Second}
	go func() {
		logger.Infof("files server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("files server: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("files server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
	logger.Info("files server stopped")
}
