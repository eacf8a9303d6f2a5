// Package relay forwards a conversation to the upstream completion endpoint and
// re-emits the streamed assistant text as a plain byte stream.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/tmaxmax/go-sse"

	"chat-relay/internal/config"
	"chat-relay/internal/domain"
	"chat-relay/internal/integrations/openai"
)

const (
	// DefaultTemperature is used when the requested percentage is absent or
	// out of range.
	DefaultTemperature = 0.6

	doneSentinel = "[DONE]"
	maxEventSize = 1 << 20
)

// Streamer opens the upstream event stream. *openai.Client satisfies it.
type Streamer interface {
	StreamChat(ctx context.Context, in openai.ChatRequest) (io.ReadCloser, error)
}

// Input is one conversation turn to relay.
type Input struct {
	Messages []domain.ChatMessage
	// System, when non-empty, is prepended as a system message.
	System string
	// Temperature is a percentage in [0,100]; nil means absent.
	Temperature *float64
}

// Result summarizes a finished relay for logging.
type Result struct {
	Deltas int
	Bytes  int
	// Done reports whether the upstream sent the completion sentinel.
	Done bool
}

// Relay is stateless; one value serves all requests.
type Relay struct {
	upstream Streamer
	model    string
}

// New returns a Relay using the model configured in cfg.
func New(cfg *config.Config, upstream Streamer) (*Relay, error) {
	if upstream == nil {
		return nil, errors.New("relay: upstream must not be nil")
	}
	if cfg == nil {
		return nil, errors.New("relay: config must not be nil")
	}
	model := cfg.Model
	if model == "" {
		model = config.DefaultModel
	}
	return &Relay{upstream: upstream, model: model}, nil
}

// MapTemperature converts a [0,100] percentage to the provider's [0,2] range.
func MapTemperature(pct *float64) float64 {
	if pct == nil || *pct < 0 || *pct > 100 {
		return DefaultTemperature
	}
	return *pct / 100 * 2
}

// BuildRequest assembles the upstream request body for in.
func (r *Relay) BuildRequest(in Input) openai.ChatRequest {
	messages := make([]domain.ChatMessage, 0, len(in.Messages)+1)
	if in.System != "" {
		messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: in.System})
	}
	messages = append(messages, in.Messages...)
	return openai.ChatRequest{
		Model:       r.model,
		Messages:    messages,
		Temperature: MapTemperature(in.Temperature),
		Stream:      true,
	}
}

// Open performs the upstream call and returns its event stream. Errors here
// happen before any text is produced.
func (r *Relay) Open(ctx context.Context, in Input) (io.ReadCloser, error) {
	return r.upstream.StreamChat(ctx, r.BuildRequest(in))
}

// Stream relays in and writes each text delta to w as soon as it is decoded.
// See Pipe for termination semantics.
func (r *Relay) Stream(ctx context.Context, in Input, w io.Writer) (Result, error) {
	body, err := r.Open(ctx, in)
	if err != nil {
		return Result{}, err
	}
	return Pipe(ctx, body, w)
}

type flusher interface {
	Flush()
}

type chunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Pipe decodes the upstream event stream in body and writes the extracted
// deltas to w, flushing after each one when w supports it. Frames split
// across reads are reassembled by the SSE reader before decoding. Pipe stops
// at the sentinel, at upstream EOF, or when ctx is cancelled, in which case it
// returns ctx.Err(). body is always closed.
func Pipe(ctx context.Context, body io.ReadCloser, w io.Writer) (Result, error) {
	defer func() { _ = body.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()

	f, _ := w.(flusher)
	var res Result
	for ev, err := range sse.Read(body, &sse.ReadConfig{MaxEventSize: maxEventSize}) {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			return res, fmt.Errorf("relay: read upstream stream: %w", err)
		}
		if ev.Data == doneSentinel {
			res.Done = true
			return res, nil
		}
		text, err := extractDelta(ev.Data)
		if err != nil {
			return res, err
		}
		if text == "" {
			continue
		}
		n, err := io.WriteString(w, text)
		res.Bytes += n
		if err != nil {
			return res, fmt.Errorf("relay: write delta: %w", err)
		}
		res.Deltas++
		if f != nil {
			f.Flush()
		}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// extractDelta returns the text of the first choice's delta. Frames without
// choices, without a delta, or with null or empty content yield "".
func extractDelta(data string) (string, error) {
	if data == "" {
		return "", nil
	}
	var c chunk
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return "", fmt.Errorf("relay: decode frame: %w", err)
	}
	if len(c.Choices) == 0 || c.Choices[0].Delta.Content == nil {
		return "", nil
	}
	return *c.Choices[0].Delta.Content, nil
}
