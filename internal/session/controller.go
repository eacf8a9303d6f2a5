// Package session holds the client side of a chat: the conversation, the
// in-flight generation and the transitions between them.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"chat-relay/internal/domain"
)

// State is the controller's generation state.
type State int

const (
	StateIdle State = iota
	StateAwaitingFirstByte
	StateStreaming
	// StateAborting lasts from Stop until the cancelled request has unwound.
	StateAborting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingFirstByte:
		return "awaiting_first_byte"
	case StateStreaming:
		return "streaming"
	case StateAborting:
		return "aborting"
	default:
		return "unknown"
	}
}

var (
	ErrBusy         = errors.New("session: a generation is already in flight")
	ErrEmptyInput   = errors.New("session: input text is empty")
	ErrSystemLocked = errors.New("session: system role can only change before the first message")
	ErrNothingRetry = errors.New("session: nothing to retry")
)

const (
	DefaultTemperature = 30
	readBufferSize     = 4096
)

// Generator opens the relay's text stream for one turn. *Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, messages []domain.ChatMessage, temperature *float64) (io.ReadCloser, error)
}

type Controller struct {
	gen     Generator
	onChunk func(string)

	mu          sync.Mutex
	state       State
	messages    []domain.ChatMessage
	current     strings.Builder
	system      string
	temperature float64
	cancel      context.CancelFunc
}

type Option func(*Controller)

// WithChunkHandler registers fn to receive every decoded chunk as it arrives.
// fn runs on the generating goroutine, outside the controller's lock.
func WithChunkHandler(fn func(string)) Option {
	return func(c *Controller) {
		c.onChunk = fn
	}
}

func WithTemperature(pct float64) Option {
	return func(c *Controller) {
		c.temperature = pct
	}
}

func NewController(gen Generator, opts ...Option) (*Controller, error) {
	if gen == nil {
		return nil, errors.New("session: generator must not be nil")
	}
	c := &Controller{gen: gen, temperature: DefaultTemperature}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages returns a copy of the committed conversation.
func (c *Controller) Messages() []domain.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ChatMessage(nil), c.messages...)
}

// Current returns the assistant text received so far for the in-flight turn.
func (c *Controller) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.String()
}

func (c *Controller) System() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.system
}

func (c *Controller) SetSystem(system string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) > 0 || c.state != StateIdle {
		return ErrSystemLocked
	}
	c.system = system
	return nil
}

func (c *Controller) SetTemperature(pct float64) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("session: temperature %v outside [0,100]", pct)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.temperature = pct
	return nil
}

// Submit appends a user message and runs one generation, blocking until the
// stream ends or Stop is called.
func (c *Controller) Submit(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.messages = append(c.messages, domain.ChatMessage{Role: domain.RoleUser, Content: text})
	genCtx, req, temp := c.beginLocked(ctx)
	c.mu.Unlock()

	return c.run(genCtx, req, temp)
}

// Retry drops a trailing assistant reply and regenerates from the last user
// message.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	n := len(c.messages)
	if n > 0 && c.messages[n-1].Role == domain.RoleAssistant {
		c.messages = c.messages[:n-1]
		n--
	}
	if n == 0 || c.messages[n-1].Role != domain.RoleUser {
		c.mu.Unlock()
		return ErrNothingRetry
	}
	genCtx, req, temp := c.beginLocked(ctx)
	c.mu.Unlock()

	return c.run(genCtx, req, temp)
}

// Stop aborts the in-flight generation and commits the partial reply. It
// reports whether there was anything to stop.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAwaitingFirstByte && c.state != StateStreaming {
		return false
	}
	c.state = StateAborting
	c.commitLocked()
	if c.cancel != nil {
		c.cancel()
	}
	return true
}

// Clear resets the conversation and the system role.
func (c *Controller) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrBusy
	}
	c.messages = nil
	c.current.Reset()
	c.system = ""
	return nil
}

func (c *Controller) beginLocked(ctx context.Context) (context.Context, []domain.ChatMessage, *float64) {
	genCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = StateAwaitingFirstByte
	c.current.Reset()

	req := make([]domain.ChatMessage, 0, len(c.messages)+1)
	if c.system != "" {
		req = append(req, domain.ChatMessage{Role: domain.RoleSystem, Content: c.system})
	}
	req = append(req, c.messages...)
	temp := c.temperature
	return genCtx, req, &temp
}

func (c *Controller) run(ctx context.Context, req []domain.ChatMessage, temp *float64) error {
	err := c.stream(ctx, req, temp)

	c.mu.Lock()
	defer c.mu.Unlock()
	aborted := c.state == StateAborting
	if err == nil && !aborted {
		c.commitLocked()
	}
	c.state = StateIdle
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if aborted {
		return nil
	}
	return err
}

func (c *Controller) stream(ctx context.Context, req []domain.ChatMessage, temp *float64) error {
	body, err := c.gen.Generate(ctx, req, temp)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()

	var dec textDecoder
	buf := make([]byte, readBufferSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if !c.append(dec.Decode(buf[:n])) {
				return nil
			}
		}
		if errors.Is(rerr, io.EOF) {
			c.append(dec.Flush())
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("session: read stream: %w", rerr)
		}
	}
}

// append adds text to the in-flight reply. It returns false once the turn
// has been stopped; later text is dropped.
func (c *Controller) append(text string) bool {
	c.mu.Lock()
	if c.state == StateAborting {
		c.mu.Unlock()
		return false
	}
	c.state = StateStreaming
	if text == "" {
		c.mu.Unlock()
		return true
	}
	c.current.WriteString(text)
	c.mu.Unlock()

	if c.onChunk != nil {
		c.onChunk(text)
	}
	return true
}

func (c *Controller) commitLocked() {
	if c.current.Len() > 0 {
		c.messages = append(c.messages, domain.ChatMessage{Role: domain.RoleAssistant, Content: c.current.String()})
	}
	c.current.Reset()
}
