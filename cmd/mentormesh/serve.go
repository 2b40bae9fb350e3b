package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hupe1980/mentormesh"
	"github.com/hupe1980/mentormesh/core"
	"github.com/hupe1980/mentormesh/engine"
	"github.com/hupe1980/mentormesh/logging"
	"github.com/hupe1980/mentormesh/retrieval"
	"github.com/hupe1980/mentormesh/session"
)

// maxRequestBodySize bounds JSON request bodies (1MB).
const maxRequestBodySize = 1 << 20

type server struct {
	mesh        *mentormesh.Mesh
	logger      logging.Logger
	defaultUser string
}

type initRequest struct {
	UserName string `json:"user_name"`
}

type turnRequest struct {
	Question string `json:"question"`
	UserName string `json:"user_name"`
	UserRole string `json:"user_role"`
}

type turnResponse struct {
	TurnID    string `json:"turn_id"`
	Answer    string `json:"answer"`
	LoopCount int    `json:"loop_count"`
}

type historyResponse struct {
	SessionID string         `json:"session_id"`
	Messages  []core.Message `json:"messages"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newServer(mesh *mentormesh.Mesh, logger logging.Logger, defaultUser string) *server {
	return &server{mesh: mesh, logger: logger, defaultUser: defaultUser}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)

	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Post("/init", s.handleInit)
		r.Post("/turns", s.handleTurnStream)
		r.Post("/turns:sync", s.handleTurnSync)
		r.Get("/history", s.handleHistory)
	})

	return r
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"request_id", chiMiddleware.GetReqID(r.Context()),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleInit(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req initRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	name := req.UserName
	if strings.TrimSpace(name) == "" {
		name = s.defaultUser
	}

	if err := s.mesh.Initialize(r.Context(), sessionID, name); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeHistory(w, r, sessionID)
}

// handleTurnStream streams answer tokens as chunked plain text. Failures
// after the first byte are reported in-band on a final line.
func (s *server) handleTurnStream(w http.ResponseWriter, r *http.Request) {
	in, ok := s.turnInput(w, r)
	if !ok {
		return
	}

	flusher, _ := w.(http.Flusher)
	started := false

	for tok, err := range s.mesh.Invoke(r.Context(), in) {
		if err != nil {
			if !started {
				s.writeError(w, err)
				return
			}

			s.logger.Error("http.turn.failed", "session_id", in.SessionID, "error", err.Error())
			_, _ = io.WriteString(w, "\n\n"+turnFailedMessage)

			return
		}

		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.WriteHeader(http.StatusOK)

			started = true
		}

		// A failed write means the client left; breaking cancels the turn.
		if _, err := io.WriteString(w, tok); err != nil {
			return
		}

		if flusher != nil {
			flusher.Flush()
		}
	}

	if !started {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
	}
}

func (s *server) handleTurnSync(w http.ResponseWriter, r *http.Request) {
	in, ok := s.turnInput(w, r)
	if !ok {
		return
	}

	res, err := s.mesh.Run(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, turnResponse{
		TurnID:    res.TurnID,
		Answer:    res.Answer,
		LoopCount: res.State.LoopCount,
	})
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.writeHistory(w, r, chi.URLParam(r, "id"))
}

func (s *server) writeHistory(w http.ResponseWriter, r *http.Request, sessionID string) {
	messages, err := s.mesh.History(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{SessionID: sessionID, Messages: messages})
}

func (s *server) turnInput(w http.ResponseWriter, r *http.Request) (engine.TurnInput, bool) {
	var req turnRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return engine.TurnInput{}, false
	}

	return engine.TurnInput{
		SessionID: chi.URLParam(r, "id"),
		Question:  req.Question,
		UserName:  req.UserName,
		UserRole:  req.UserRole,
		TurnID:    chiMiddleware.GetReqID(r.Context()),
	}, true
}

// writeError maps turn errors to status codes. Provider details stay in the
// log; clients get a generic message for server side failures.
func (s *server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrSessionIDRequired), errors.Is(err, retrieval.ErrEmptyQuestion):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, session.ErrLaneClosed):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "server is shutting down"})
	case errors.Is(err, context.Canceled):
		// client went away; nobody reads the response
	default:
		s.logger.Error("http.turn.failed", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: turnFailedMessage})
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}

	if err != nil {
		return errors.New("invalid JSON body")
	}

	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func serve(ctx context.Context, addr string, s *server, logger logging.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // token streams are long lived
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("http.listen", "addr", addr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}

		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("http.shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
