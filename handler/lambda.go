package handler

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"chat-relay/internal/usecase"
)

// HandleLambda serves POST /api/generate behind a Lambda function URL with
// response streaming enabled. Rejections are returned before any streaming
// starts; once the upstream accepts, the body is piped to the runtime.
func (h *Handler) HandleLambda(ctx context.Context, ev events.LambdaFunctionURLRequest) (*events.LambdaFunctionURLStreamingResponse, error) {
	corrID := correlationID(headerValue(ev.Headers, correlationHeader))
	logger := h.logger.With("correlation_id", corrID)

	switch {
	case ev.RawPath == "/healthz":
		return plainResponse(http.StatusOK, corrID, "", "ok"), nil
	case ev.RawPath != GeneratePath:
		return plainResponse(http.StatusNotFound, corrID, "", "Not found"), nil
	case ev.RequestContext.HTTP.Method != http.MethodPost:
		return plainResponse(http.StatusMethodNotAllowed, corrID, "", "Method not allowed"), nil
	}

	body := ev.Body
	if ev.IsBase64Encoded {
		raw, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			logger.WarnContext(ctx, "invalid base64 body", "err", err)
			return plainResponse(http.StatusBadRequest, corrID, string(usecase.ErrorInvalidBody), "Invalid request body"), nil
		}
		body = string(raw)
	}
	req, err := decodeRequest(io.LimitReader(strings.NewReader(body), maxBodyBytes))
	if err != nil {
		logger.WarnContext(ctx, "invalid request body", "err", err)
		return plainResponse(http.StatusBadRequest, corrID, string(usecase.ErrorInvalidBody), "Invalid request body"), nil
	}

	pr, pw := io.Pipe()
	sw := &pipeStreamWriter{pw: pw, begun: make(chan struct{})}
	done := make(chan error, 1)
	go func() {
		err := h.gen.Generate(ctx, req, sw)
		if err != nil && sw.started() {
			logger.ErrorContext(ctx, "generate stream failed", "err", err)
			// The runtime aborts the response instead of ending it cleanly.
			_ = pw.CloseWithError(err)
		} else {
			_ = pw.Close()
		}
		done <- err
	}()

	select {
	case <-sw.begun:
		headers := map[string]string{correlationHeader: corrID}
		hh := http.Header{}
		streamHeaders(hh)
		for k := range hh {
			headers[k] = hh.Get(k)
		}
		return &events.LambdaFunctionURLStreamingResponse{
			StatusCode: http.StatusOK,
			Headers:    headers,
			Body:       pr,
		}, nil
	case err := <-done:
		_ = pr.Close()
		if err == nil {
			// Aborted before the upstream answered; nothing to stream.
			return plainResponse(http.StatusOK, corrID, "", ""), nil
		}
		status, code, msg := mapError(err)
		logger.WarnContext(ctx, "generate rejected", "status", status, "code", code, "err", err)
		return plainResponse(status, corrID, code, msg), nil
	}
}

// pipeStreamWriter signals Begin through a channel read by HandleLambda.
type pipeStreamWriter struct {
	pw    *io.PipeWriter
	begun chan struct{}
}

func (p *pipeStreamWriter) Begin() {
	if !p.started() {
		close(p.begun)
	}
}

func (p *pipeStreamWriter) started() bool {
	select {
	case <-p.begun:
		return true
	default:
		return false
	}
}

func (p *pipeStreamWriter) Write(b []byte) (int, error) {
	n, err := p.pw.Write(b)
	if err != nil {
		return n, fmt.Errorf("handler: write lambda stream: %w", err)
	}
	return n, nil
}

func plainResponse(status int, corrID, code, msg string) *events.LambdaFunctionURLStreamingResponse {
	headers := map[string]string{
		"Content-Type":    "text/plain; charset=utf-8",
		correlationHeader: corrID,
	}
	if code != "" {
		headers[errorCodeHeader] = code
	}
	return &events.LambdaFunctionURLStreamingResponse{
		StatusCode: status,
		Headers:    headers,
		Body:       strings.NewReader(msg),
	}
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
