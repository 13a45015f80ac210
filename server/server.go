// Package server exposes the publishing pipeline as a small JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"mp_publisher/logging"
	"mp_publisher/service"
	"mp_publisher/vault"
)

const (
	defaultPageSize = 20
	maxPageSize     = 20
	maxCoverBytes   = 10 << 20
	shutdownTimeout = 5 * time.Second
)

type Server struct {
	svc      *service.Service
	logger   logging.Logger
	timeout  time.Duration
	maxCover int64
}

type Options struct {
	// Timeout bounds each pipeline call (default 120s).
	Timeout time.Duration
	// MaxCoverSize caps uploaded cover images in bytes (default 10MiB).
	MaxCoverSize int64
	Logger       logging.Logger
}

func New(svc *service.Service, opts Options) (*Server, error) {
	if svc == nil {
		return nil, errors.New("service required")
	}
	s := &Server{svc: svc, logger: opts.Logger, timeout: opts.Timeout, maxCover: opts.MaxCoverSize}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	if s.timeout <= 0 {
		s.timeout = 120 * time.Second
	}
	if s.maxCover <= 0 {
		s.maxCover = maxCoverBytes
	}
	return s, nil
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/preview", s.handlePreview)
	mux.HandleFunc("POST /api/copy", s.handleCopy)
	mux.HandleFunc("POST /api/publish", s.handlePublish)
	mux.HandleFunc("POST /api/cover", s.handleCover)
	mux.HandleFunc("GET /api/materials", s.handleMaterials)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return trimSlash(logMiddleware(s.logger, mux))
}

// --- Handlers ---

type documentReq struct {
	Path string `json:"path"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req documentReq
	if !s.decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	preview, err := s.svc.Preview(ctx, req.Path)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (s *Server) handleCopy(w http.ResponseWriter, r *http.Request) {
	var req documentReq
	if !s.decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	clip, err := s.svc.Copy(ctx, req.Path)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, clip)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req service.PublishRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	res, err := s.svc.Publish(ctx, req)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type coverResp struct {
	MediaID string `json:"media_id"`
	Name    string `json:"name"`
}

// handleCover accepts a multipart upload with the image in field "media".
func (s *Server) handleCover(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxCover+1<<20)
	file, header, err := r.FormFile("media")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("media file required: %w", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.maxCover+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if int64(len(data)) > s.maxCover {
		s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("cover exceeds %d bytes", s.maxCover))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	id, err := s.svc.UploadCover(ctx, data, header.Filename)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, coverResp{MediaID: id, Name: header.Filename})
}

func (s *Server) handleMaterials(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 0)
	if err != nil || page < 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("page must be a non-negative integer"))
		return
	}
	size, err := queryInt(r, "count", defaultPageSize)
	if err != nil || size < 1 || size > maxPageSize {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("count must be between 1 and %d", maxPageSize))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	materials, err := s.svc.Materials(ctx, page, size)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, materials)
}

// --- Helpers ---

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Error("handler error", "error", err, "status", status)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrPathRequired), errors.Is(err, vault.ErrInvalidDocumentLocation):
		return http.StatusBadRequest
	case errors.Is(err, vault.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrPublisherUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// Run serves Routes on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.timeout + 10*time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}
