package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chat-relay/internal/domain"
)

const defaultBaseURL = "https://api.openai.com"

// ErrEmptyStream is returned when the upstream answers 2xx without a body.
var ErrEmptyStream = errors.New("openai: upstream response has no body")

// ChatRequest is the request shape for a streaming Chat Completions call.
type ChatRequest struct {
	Model       string               `json:"model"`
	Messages    []domain.ChatMessage `json:"messages"`
	Temperature float64              `json:"temperature"`
	Stream      bool                 `json:"stream"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused OpenAI-compatible client for streaming chat completions.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client authenticating with apiKey.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("openai: api key must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		httpClient: NewHTTPClient(nil, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewHTTPClient returns a client suitable for long-lived streaming bodies.
// There is no overall timeout; headerTimeout bounds the wait for response
// headers when positive. A non-nil proxy routes all outbound traffic through it.
func NewHTTPClient(proxy *url.URL, headerTimeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if proxy != nil {
		tr.Proxy = http.ProxyURL(proxy)
	}
	if headerTimeout > 0 {
		tr.ResponseHeaderTimeout = headerTimeout
	}
	return &http.Client{Transport: tr}
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return NewHTTPClient(nil, 0)
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// StreamChat issues one streaming POST and returns the raw event-stream body.
// The caller owns the body and must close it. Cancelling ctx tears down the
// upstream connection. There is no retry.
func (c *Client) StreamChat(ctx context.Context, in ChatRequest) (io.ReadCloser, error) {
	if in.Model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	in.Stream = true

	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	url := chatURL(c.baseURL)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return nil, fmt.Errorf("openai: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, fmt.Errorf("openai: request failed: %w", doErr)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer func() { _ = res.Body.Close() }()
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}
	return peekBody(res.Body)
}

// bufferedBody reads through the buffer that peekBody filled and closes the
// underlying response body.
type bufferedBody struct {
	*bufio.Reader
	io.Closer
}

// peekBody waits for the first byte of body so an empty 2xx is reported as
// ErrEmptyStream before the caller commits to streaming.
func peekBody(body io.ReadCloser) (io.ReadCloser, error) {
	if body == nil || body == http.NoBody {
		return nil, ErrEmptyStream
	}
	br := bufio.NewReader(body)
	if _, err := br.Peek(1); err != nil {
		_ = body.Close()
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyStream
		}
		return nil, fmt.Errorf("openai: read stream: %w", err)
	}
	return bufferedBody{Reader: br, Closer: body}, nil
}
