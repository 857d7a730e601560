package blob

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"

	"github.com/baatchit/internal/logger"
)

// Handler отдаёт DiskStore по HTTP: сервис files и встроенный режим API.
type Handler struct {
	store         *DiskStore
	maxUploadSize int64
}

func NewHandler(store *DiskStore, maxUploadSize int64) *Handler {
	return &Handler{store: store, maxUploadSize: maxUploadSize}
}

// Routes: POST /upload?folder=, GET и DELETE /files/{folder}/{name}. guards применяются только к записи.
func (h *Handler) Routes(r chi.Router, guards ...func(http.Handler) http.Handler) {
	r.Get("/files/{folder}/{name}", h.Serve)
	w := r.With(guards...)
	w.Post("/upload", h.Upload)
	w.Delete("/files/{folder}/{name}", h.Delete)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("blob writeJSON: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: msg})
}

// Upload принимает multipart/form-data с полем "file".
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "file too large")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	obj, err := h.store.Upload(r.Context(), r.URL.Query().Get("folder"), header.Filename, file)
	switch {
	case errors.Is(err, ErrBlockedExt):
		writeError(w, http.StatusBadRequest, "file type not allowed")
		return
	case errors.Is(err, ErrBadFolder):
		writeError(w, http.StatusBadRequest, "invalid folder")
		return
	case err != nil:
		if r.Context().Err() != nil {
			return
		}
		logger.Errorf("blob upload: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to save file")
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

// Serve отдаёт файл (разархивирует при отдаче); query name=: оригинальное имя для Content-Disposition.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	publicID := chi.URLParam(r, "folder") + "/" + chi.URLParam(r, "name")
	rc, err := h.store.Open(publicID)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		logger.Errorf("blob serve %s: %v", publicID, err)
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentTypeByExt(filepath.Ext(publicID)))
	if origName := r.URL.Query().Get("name"); origName != "" {
		if safe := safeFilename(strings.ReplaceAll(origName, "+", " ")); safe != "" {
			w.Header().Set("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(safe))
		}
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logger.Errorf("blob serve copy %s: %v", publicID, err)
	}
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	publicID := chi.URLParam(r, "folder") + "/" + chi.URLParam(r, "name")
	if err := h.store.Delete(r.Context(), publicID); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		logger.Errorf("blob delete %s: %v", publicID, err)
		writeError(w, http.StatusInternalServerError, "failed to delete file")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// safeFilename оставляет имя безопасным для Content-Disposition (без управляющих символов и кавычек), UTF-8 сохраняется.
func safeFilename(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\r', '\n', '"', '\\', '/', '\x00':
			continue
		}
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
