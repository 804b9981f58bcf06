package capture

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"codeshot/shot"
)

const maxBodyBytes = 8 << 20

// Server exposes a session over HTTP: the preview page, the editor events
// and the capture itself.
type Server struct {
	o       *Orchestrator
	router  chi.Router
	handler http.Handler
	logger  *log.Logger
}

// NewServer wires the routes of o.
func NewServer(o *Orchestrator) *Server {
	s := &Server{
		o:      o,
		router: chi.NewRouter(),
		logger: o.log,
	}
	s.router.Use(middleware.Recoverer)
	s.registerRoutes()
	s.handler = withLogging(s.logger, s.router)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.router.Get("/", s.handlePage)
	s.router.Post("/selection", s.handleSelection)
	s.router.Post("/paste", s.handlePaste)
	s.router.Get("/options", s.handleGetOptions)
	s.router.Put("/options", s.handlePutOptions)
	s.router.Post("/message", s.handleMessage)
	s.router.Post("/shoot", s.handleShoot)
	s.router.Get("/capture.png", s.handleCapture("png", "image/png"))
	s.router.Get("/capture.jpg", s.handleCapture("jpeg", "image/jpeg"))
	s.router.Get("/state", s.handleState)
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	doc := s.o.Document()
	if doc == nil {
		s.fail(w, ErrClosed)
		return
	}
	page, err := doc.Render()
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, page)
}

type selectionRequest struct {
	Empty bool `json:"empty"`
	// Wait blocks the response until the clipboard poll ends.
	Wait bool `json:"wait"`
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if !s.decode(w, r, &req) {
		return
	}
	done := s.o.SelectionChanged(context.WithoutCancel(r.Context()), req.Empty)
	if req.Wait {
		select {
		case <-done:
		case <-r.Context().Done():
			return
		}
	}
	s.writeState(w, http.StatusAccepted)
}

func (s *Server) handlePaste(w http.ResponseWriter, r *http.Request) {
	var p ClipboardPayload
	if !s.decode(w, r, &p) {
		return
	}
	if err := s.o.Paste(r.Context(), p); err != nil {
		s.fail(w, err)
		return
	}
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleGetOptions(w http.ResponseWriter, r *http.Request) {
	doc := s.o.Document()
	if doc == nil {
		s.fail(w, ErrClosed)
		return
	}
	writeJSON(w, http.StatusOK, doc.Options())
}

func (s *Server) handlePutOptions(w http.ResponseWriter, r *http.Request) {
	opts := shot.DefaultRenderOptions()
	if !s.decode(w, r, &opts) {
		return
	}
	if err := s.o.SetOptions(opts); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m, err := DecodeMessage(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.o.HandleMessage(r.Context(), m); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleShoot(w http.ResponseWriter, r *http.Request) {
	path, err := s.o.Shoot(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "saved": path != ""})
}

func (s *Server) handleCapture(format, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		quality := 0.0
		if q, err := strconv.ParseFloat(r.URL.Query().Get("quality"), 64); err == nil {
			quality = q
		}
		img, err := s.o.RenderFormat(r.Context(), format, quality)
		if err != nil {
			s.fail(w, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-store")
		w.Write(img)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeState(w, http.StatusOK)
}

func (s *Server) writeState(w http.ResponseWriter, status int) {
	body := map[string]any{"state": s.o.State().String()}
	if doc := s.o.Document(); doc != nil {
		if snip := doc.Snippet(); snip != nil {
			body["background"] = snip.BackgroundColor
			body["lines"] = len(snip.Lines)
		}
	}
	writeJSON(w, status, body)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, shot.ErrInvalidPaste), errors.Is(err, ErrUnknownMessage):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ErrCaptureInProgress):
		status = http.StatusConflict
	case errors.Is(err, ErrClosed):
		status = http.StatusGone
	case errors.Is(err, shot.ErrImageDecode):
		status = http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "err", err)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func withLogging(logger *log.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"took", time.Since(start),
			"from", r.RemoteAddr,
		)
	})
}
