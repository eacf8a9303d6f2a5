package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"chat-relay/internal/domain"
	"chat-relay/internal/usecase"
)

const (
	GeneratePath = "/api/generate"

	correlationHeader = "X-Correlation-Id"
	errorCodeHeader   = "X-Error-Code"
	maxBodyBytes      = 1 << 20
)

// Generator is the use case behind POST /api/generate.
type Generator interface {
	Generate(ctx context.Context, req domain.SignedRequest, w usecase.StreamWriter) error
}

type Handler struct {
	gen    Generator
	logger *slog.Logger
}

func NewHandler(gen Generator, logger *slog.Logger) (*Handler, error) {
	if gen == nil {
		return nil, errors.New("handler: generator must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{gen: gen, logger: logger}, nil
}

// Routes returns the HTTP surface of the relay.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post(GeneratePath, h.ServeGenerate)
	return r
}

// ServeGenerate decodes a signed request and streams the reply as plain text.
func (h *Handler) ServeGenerate(w http.ResponseWriter, r *http.Request) {
	corrID := correlationID(r.Header.Get(correlationHeader))
	w.Header().Set(correlationHeader, corrID)
	logger := h.logger.With("correlation_id", corrID)

	req, err := decodeRequest(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		logger.WarnContext(r.Context(), "invalid request body", "err", err)
		writePlainError(w, http.StatusBadRequest, string(usecase.ErrorInvalidBody), "Invalid request body")
		return
	}

	sw := &httpStreamWriter{w: w, rc: http.NewResponseController(w)}
	err = h.gen.Generate(r.Context(), req, sw)
	if err == nil {
		return
	}
	if sw.begun {
		// Headers and partial text are already on the wire.
		logger.ErrorContext(r.Context(), "generate stream failed", "err", err)
		return
	}
	status, code, msg := mapError(err)
	logLevel := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		logLevel = slog.LevelError
	}
	logger.Log(r.Context(), logLevel, "generate rejected", "status", status, "code", code, "err", err)
	writePlainError(w, status, code, msg)
}

func decodeRequest(r io.Reader) (domain.SignedRequest, error) {
	var req domain.SignedRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return domain.SignedRequest{}, fmt.Errorf("handler: decode request: %w", err)
	}
	return req, nil
}

// mapError converts a use-case error into status, code and plain-text body.
func mapError(err error) (int, string, string) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		return http.StatusInternalServerError, string(usecase.ErrorInternal), "Internal error"
	}
	code := string(ue.Code)
	switch ue.Code {
	case usecase.ErrorInvalidBody:
		return http.StatusBadRequest, code, "Invalid request body"
	case usecase.ErrorMissingInput:
		return http.StatusBadRequest, code, "No input text"
	case usecase.ErrorNoPassword:
		return http.StatusUnauthorized, code, "Invalid password"
	case usecase.ErrorBadSignature:
		return http.StatusUnauthorized, code, "Invalid signature"
	case usecase.ErrorStale:
		return http.StatusUnauthorized, code, "Request expired"
	case usecase.ErrorUpstream:
		if status, ok := usecase.UpstreamStatusCode(err); ok {
			return http.StatusBadGateway, code, fmt.Sprintf("Upstream error: %d %s", status, http.StatusText(status))
		}
		return http.StatusBadGateway, code, "Upstream request failed"
	case usecase.ErrorUpstreamEmpty:
		return http.StatusBadGateway, code, "Upstream returned no data"
	default:
		return http.StatusInternalServerError, code, "Internal error"
	}
}

func writePlainError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set(errorCodeHeader, code)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}

func correlationID(incoming string) string {
	if id := strings.TrimSpace(incoming); id != "" {
		return id
	}
	return uuid.NewString()
}

func streamHeaders(h http.Header) {
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
}

// httpStreamWriter commits a 200 on Begin and flushes after every delta.
type httpStreamWriter struct {
	w     http.ResponseWriter
	rc    *http.ResponseController
	begun bool
}

func (s *httpStreamWriter) Begin() {
	if s.begun {
		return
	}
	s.begun = true
	streamHeaders(s.w.Header())
	s.w.WriteHeader(http.StatusOK)
	s.Flush()
}

func (s *httpStreamWriter) Write(p []byte) (int, error) {
	if !s.begun {
		s.Begin()
	}
	return s.w.Write(p)
}

func (s *httpStreamWriter) Flush() {
	_ = s.rc.Flush()
}
