package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chat-relay/internal/auth"
	"chat-relay/internal/domain"
)

const generatePath = "/api/generate"

// ErrEmptyReply is returned when the relay answers 2xx without any text.
var ErrEmptyReply = errors.New("session: relay response has no body")

// ResponseError is a non-2xx answer from the relay. Code carries the
// X-Error-Code header so callers can tell an invalid password from other
// failures.
type ResponseError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ResponseError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("session: relay returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("session: relay returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

func (e *ResponseError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client posts signed generate requests to a relay.
type Client struct {
	baseURL    string
	httpClient *http.Client
	password   string
	secret     string
	now        func() time.Time
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithPassword sets the shared site password sent as "pass".
func WithPassword(p string) ClientOption {
	return func(c *Client) {
		c.password = p
	}
}

// WithSecret sets the key used to sign requests.
func WithSecret(s string) ClientOption {
	return func(c *Client) {
		c.secret = s
	}
}

func WithClientClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("session: relay url must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Generate signs {time, last message content} and returns the relay's text
// stream. Cancelling ctx aborts the request.
func (c *Client) Generate(ctx context.Context, messages []domain.ChatMessage, temperature *float64) (io.ReadCloser, error) {
	ts := c.now().UnixMilli()
	body, err := json.Marshal(domain.SignedRequest{
		Messages:    messages,
		Time:        ts,
		Signature:   auth.Sign(c.secret, ts, domain.LastContent(messages)),
		Password:    c.password,
		Temperature: temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("session: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+generatePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("session: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session: request failed: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer func() { _ = res.Body.Close() }()
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &ResponseError{
			StatusCode: res.StatusCode,
			Code:       res.Header.Get("X-Error-Code"),
			Message:    strings.TrimSpace(string(buf)),
		}
	}
	if res.Body == nil || res.Body == http.NoBody {
		return nil, ErrEmptyReply
	}
	br := bufio.NewReader(res.Body)
	if _, err := br.Peek(1); err != nil {
		_ = res.Body.Close()
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyReply
		}
		return nil, fmt.Errorf("session: read reply: %w", err)
	}
	return struct {
		io.Reader
		io.Closer
	}{br, res.Body}, nil
}
