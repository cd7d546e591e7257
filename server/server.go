// Package server exposes a pii.Service over an HTTP JSON API.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	pii "github.com/SamuelRCrider/pii-go"
	"github.com/SamuelRCrider/pii-go/config"
	"github.com/SamuelRCrider/pii-go/utils"
)

// DownloadFilename names the attachment returned by /anonymize/file?download=1
const DownloadFilename = "anonymized_text.txt"

// Server is the HTTP transport of a pii.Service
type Server struct {
	svc       *pii.Service
	cfg       config.ServerConfig
	logger    *log.Logger
	limiter   *RateLimiter
	validator requestValidator
	router    chi.Router
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the server logger
func WithLogger(logger *log.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRateLimiter replaces the limiter built from the configuration
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) {
		s.limiter = rl
	}
}

// New creates a Server for svc.
func New(svc *pii.Service, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		svc:     svc,
		cfg:     cfg,
		logger:  utils.Discard(),
		limiter: NewRateLimiter(cfg.RateLimitPerMinute, time.Minute),
		validator: requestValidator{
			languages: svc.Languages(),
			maxLength: int(cfg.MaxBodyBytes),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.Use(s.limitBody)

		r.Get("/languages", s.handleLanguages)
		r.Get("/entities", s.handleEntities)
		r.Post("/analyze", s.handleAnalyze)
		r.Post("/anonymize", s.handleAnonymize)
		r.Post("/anonymize/file", s.handleAnonymizeFile)
	})
	return r
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.MaxBodyBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) callerContext(r *http.Request) context.Context {
	return pii.WithCaller(r.Context(), pii.Caller{
		RequestID: middleware.GetReqID(r.Context()),
		Source:    "http",
		ClientIP:  clientIP(r),
	})
}

func decodeJSON(r *http.Request, v any) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &RequestError{Message: "invalid JSON body: " + err.Error()}
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"languages": s.svc.Languages(),
	})
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"languages": s.svc.Languages()})
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	language := r.URL.Query().Get("language")
	if err := s.validator.validateLanguage(language); err != nil {
		s.fail(w, r, err)
		return
	}
	entities, err := s.svc.SupportedEntities(r.Context(), language)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"language": language, "entities": entities})
}

// detectedEntity is a span plus the text it covers
type detectedEntity struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	EntityType string  `json:"entity_type"`
	Score      float64 `json:"score"`
	Recognizer string  `json:"recognizer,omitempty"`
	Text       string  `json:"text"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.validator.validateText(req.Text); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.validator.validateLanguage(req.Language); err != nil {
		s.fail(w, r, err)
		return
	}

	spans, err := s.svc.Analyze(s.callerContext(r), req.Text, req.Language)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	entities := make([]detectedEntity, 0, len(spans))
	for _, sp := range spans {
		entities = append(entities, detectedEntity{
			Start:      sp.Start,
			End:        sp.End,
			EntityType: sp.EntityType,
			Score:      sp.Score,
			Recognizer: sp.Recognizer,
			Text:       req.Text[sp.Start:sp.End],
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": middleware.GetReqID(r.Context()),
		"entities":   entities,
	})
}

func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	var req anonymizeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.validator.validateText(req.Text); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.validator.validateLanguage(req.Language); err != nil {
		s.fail(w, r, err)
		return
	}

	policy, err := s.svc.Policy(req.Policy)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.svc.Anonymize(s.callerContext(r), req.Text, req.Language, policy)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAnonymizeFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.cfg.MaxBodyBytes); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			s.fail(w, r, err)
			return
		}
		s.fail(w, r, &RequestError{Field: "file", Message: "invalid multipart form: " + err.Error()})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.fail(w, r, &RequestError{Field: "file", Message: "missing upload"})
		return
	}
	defer file.Close()

	language := r.FormValue("language")
	if err := s.validator.validateLanguage(language); err != nil {
		s.fail(w, r, err)
		return
	}

	policy, err := s.svc.Policy(r.FormValue("policy"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.svc.AnonymizeFile(s.callerContext(r), header.Filename, file, language, policy)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if r.FormValue("download") == "1" || r.URL.Query().Get("download") == "1" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", DownloadFilename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(res.Text))
		return
	}
	writeJSON(w, http.StatusOK, res)
}
