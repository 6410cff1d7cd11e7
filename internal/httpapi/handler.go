package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/medreportflow/internal/config"
	"github.com/Lllllllleong/medreportflow/internal/metrics"
	"github.com/Lllllllleong/medreportflow/internal/models"
	"github.com/Lllllllleong/medreportflow/internal/services"
)

const (
	pdfContentType  = "application/pdf"
	multipartMemory = 8 << 20
	storageTimeout  = 30 * time.Second
	indexTimeout    = 10 * time.Second
)

type Handler struct {
	cfg    config.Config
	logger *slog.Logger
	blobs  services.BlobStore
	index  services.SearchIndex
}

// New builds the handler. index may be nil, in which case History answers 500.
func New(cfg config.Config, logger *slog.Logger, blobs services.BlobStore, index services.SearchIndex) *Handler {
	return &Handler{
		cfg:    cfg,
		logger: logger,
		blobs:  blobs,
		index:  index,
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Upload stores one PDF in the intake bucket under a fresh name. Nothing is
// written unless the caller is identified and the part is a PDF.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		metrics.UploadRequests.WithLabelValues(strconv.Itoa(sw.status)).Inc()
	}()
	w = sw

	userID, err := h.identify(r)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, "unauthorized: please sign in")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.logger.Warn("Could not parse upload form.", "error", err, "userId", userID)
		h.respondError(w, http.StatusBadRequest, "invalid request format (expected multipart/form-data)")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "no 'file' part found in the form")
		return
	}
	defer file.Close()

	mediaType, _, err := mime.ParseMediaType(header.Header.Get("Content-Type"))
	if err != nil || mediaType != pdfContentType {
		h.respondError(w, http.StatusBadRequest, "invalid file type: only PDF is accepted")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "could not read uploaded file")
		return
	}

	originalFilename := header.Filename
	blobName := uuid.NewString() + filepath.Ext(originalFilename)
	logCtx := h.logger.With("userId", userID, "blobName", blobName, "originalFilename", originalFilename)

	ctx, cancel := context.WithTimeout(r.Context(), storageTimeout)
	defer cancel()
	err = h.blobs.Put(ctx, h.cfg.IntakeBucket, blobName, data, models.PutOptions{
		ContentType: pdfContentType,
		Metadata: map[string]string{
			models.MetadataUserID:           userID,
			models.MetadataOriginalFilename: originalFilename,
		},
	})
	if err != nil {
		logCtx.Error("Failed to store uploaded file.", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error while saving the file")
		return
	}

	logCtx.Info("File uploaded.", "sizeBytes", len(data))
	writeJSON(w, http.StatusOK, models.UploadResponse{
		Success:  true,
		Message:  fmt.Sprintf("File '%s' uploaded successfully.", originalFilename),
		BlobName: blobName,
	})
}

// History lists the caller's indexed reports, newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID, err := h.identify(r)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, "unauthorized: please sign in")
		return
	}
	if h.index == nil {
		h.respondError(w, http.StatusInternalServerError, "history is not available")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), indexTimeout)
	defer cancel()
	docs, err := h.index.ListByUser(ctx, userID, h.cfg.HistoryLimit)
	if err != nil {
		h.logger.Error("Failed to list report history.", "error", err, "userId", userID)
		h.respondError(w, http.StatusInternalServerError, "failed to load report history")
		return
	}
	if docs == nil {
		docs = []models.IndexRecord{}
	}
	writeJSON(w, http.StatusOK, models.HistoryResponse{Documents: docs})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	payload, err := json.Marshal(body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
