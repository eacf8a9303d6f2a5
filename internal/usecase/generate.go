package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"chat-relay/internal/auth"
	"chat-relay/internal/domain"
	"chat-relay/internal/integrations/openai"
	"chat-relay/internal/relay"
)

type Authorizer interface {
	Authorize(req domain.SignedRequest, now time.Time) auth.Outcome
}

type Relayer interface {
	Open(ctx context.Context, in relay.Input) (io.ReadCloser, error)
}

// StreamWriter receives the relayed text. Begin is called once, after the
// upstream accepted the request and before the first byte is written, so
// adapters can commit success headers lazily.
type StreamWriter interface {
	io.Writer
	Begin()
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type GenerateService struct {
	auth   Authorizer
	relay  Relayer
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*GenerateService)

func WithLogger(l *slog.Logger) Option {
	return func(s *GenerateService) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *GenerateService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewGenerateService(a Authorizer, r Relayer, opts ...Option) (*GenerateService, error) {
	if a == nil {
		return nil, errors.New("usecase: authorizer must not be nil")
	}
	if r == nil {
		return nil, errors.New("usecase: relay must not be nil")
	}
	s := &GenerateService{
		auth:   a,
		relay:  r,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Generate validates req and streams the assistant text into w. Validation
// and upstream failures are returned before w.Begin is called. A client
// abort (ctx cancelled) is not an error.
func (s *GenerateService) Generate(ctx context.Context, req domain.SignedRequest, w StreamWriter) error {
	if len(req.Messages) == 0 {
		return newError(ErrorMissingInput, "no_messages", nil)
	}

	switch s.auth.Authorize(req, s.now()) {
	case auth.Accepted:
	case auth.RejectedNoPassword:
		return newError(ErrorNoPassword, "invalid_password", nil)
	case auth.RejectedBadSignature:
		return newError(ErrorBadSignature, "invalid_signature", nil)
	case auth.RejectedStale:
		return newError(ErrorStale, "request_expired", nil)
	default:
		return newError(ErrorInternal, "unknown_auth_outcome", nil)
	}

	body, err := s.relay.Open(ctx, relay.Input{
		Messages:    req.Messages,
		System:      req.System,
		Temperature: req.Temperature,
	})
	if err != nil {
		if ctx.Err() != nil {
			s.logger.InfoContext(ctx, "client aborted before upstream responded", "reason", "client_aborted")
			return nil
		}
		if errors.Is(err, openai.ErrEmptyStream) {
			return newError(ErrorUpstreamEmpty, "upstream_empty_body", err)
		}
		if _, ok := UpstreamStatusCode(err); ok {
			return newError(ErrorUpstream, "upstream_status", err)
		}
		return newError(ErrorUpstream, "upstream_request_failed", err)
	}

	w.Begin()
	start := s.now()
	res, err := relay.Pipe(ctx, body, w)
	attrs := []any{"deltas", res.Deltas, "bytes", res.Bytes, "done", res.Done, "elapsed", s.now().Sub(start)}
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "relay finished", attrs...)
		return nil
	case ctx.Err() != nil:
		s.logger.InfoContext(ctx, "relay stopped by client", append(attrs, "reason", "client_aborted")...)
		return nil
	default:
		s.logger.ErrorContext(ctx, "relay failed mid-stream", append(attrs, "err", err)...)
		return newError(ErrorStreamFailed, "stream_interrupted", err)
	}
}

// UpstreamStatusCode extracts the provider's HTTP status from err.
func UpstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
