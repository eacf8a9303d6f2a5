package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-relay/internal/domain"
)

type fakeGenerator struct {
	mu       sync.Mutex
	bodies   []io.ReadCloser
	err      error
	calls    int
	lastMsgs []domain.ChatMessage
	lastTemp *float64
	// block, when set, makes Generate wait for ctx cancellation.
	block bool
}

func (f *fakeGenerator) Generate(ctx context.Context, messages []domain.ChatMessage, temperature *float64) (io.ReadCloser, error) {
	f.mu.Lock()
	f.calls++
	f.lastMsgs = append([]domain.ChatMessage(nil), messages...)
	f.lastTemp = temperature
	block := f.block
	var body io.ReadCloser
	if len(f.bodies) > 0 {
		body = f.bodies[0]
		f.bodies = f.bodies[1:]
	}
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return body, nil
}

func textBody(chunks ...string) io.ReadCloser {
	return &chunkReader{chunks: chunks}
}

type chunkReader struct {
	chunks []string
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if r.chunks[0] == "" {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func (r *chunkReader) Close() error { return nil }

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
func (r errReader) Close() error { return nil }

func newTestController(t *testing.T, gen Generator, opts ...Option) *Controller {
	t.Helper()
	c, err := NewController(gen, opts...)
	require.NoError(t, err)
	return c
}

func TestNewController_ValidatesGenerator(t *testing.T) {
	_, err := NewController(nil)
	require.Error(t, err)
}

func TestSubmit_CommitsAssistantReply(t *testing.T) {
	gen := &fakeGenerator{bodies: []io.ReadCloser{textBody("Hello", ", ", "world")}}
	var chunks []string
	c := newTestController(t, gen, WithChunkHandler(func(s string) { chunks = append(chunks, s) }))

	require.NoError(t, c.Submit(context.Background(), "hi"))
	require.Equal(t, []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "Hello, world"},
	}, c.Messages())
	require.Equal(t, []string{"Hello", ", ", "world"}, chunks)
	require.Equal(t, StateIdle, c.State())
	require.Empty(t, c.Current())
	require.NotNil(t, gen.lastTemp)
	require.InDelta(t, 30, *gen.lastTemp, 1e-9)
}

func TestSubmit_SplitMultiByteChunks(t *testing.T) {
	raw := "Grüße 🙂"
	idx := strings.Index(raw, "🙂") + 2
	gen := &fakeGenerator{bodies: []io.ReadCloser{textBody(raw[:idx], raw[idx:])}}
	c := newTestController(t, gen)

	require.NoError(t, c.Submit(context.Background(), "hi"))
	msgs := c.Messages()
	require.Equal(t, raw, msgs[len(msgs)-1].Content)
}

func TestSubmit_PrependsSystemRole(t *testing.T) {
	gen := &fakeGenerator{bodies: []io.ReadCloser{textBody("ok")}}
	c := newTestController(t, gen, WithTemperature(80))
	require.NoError(t, c.SetSystem("You are terse."))

	require.NoError(t, c.Submit(context.Background(), "hi"))
	require.Equal(t, domain.ChatMessage{Role: domain.RoleSystem, Content: "You are terse."}, gen.lastMsgs[0])
	require.Equal(t, "hi", gen.lastMsgs[1].Content)
	require.InDelta(t, 80, *gen.lastTemp, 1e-9)

	// The system prompt is not part of the committed conversation.
	require.Equal(t, domain.RoleUser, c.Messages()[0].Role)
	require.ErrorIs(t, c.SetSystem("other"), ErrSystemLocked)
}

func TestSubmit_RejectsEmptyInput(t *testing.T) {
	gen := &fakeGenerator{}
	c := newTestController(t, gen)
	require.ErrorIs(t, c.Submit(context.Background(), "   "), ErrEmptyInput)
	require.Zero(t, gen.calls)
	require.Empty(t, c.Messages())
}

func TestSubmit_FailureResetsBusyState(t *testing.T) {
	gen := &fakeGenerator{err: &ResponseError{StatusCode: 401, Code: "AUTH_NO_PASSWORD", Message: "Invalid password"}}
	c := newTestController(t, gen)

	err := c.Submit(context.Background(), "hi")
	var re *ResponseError
	require.ErrorAs(t, err, &re)
	require.Equal(t, "AUTH_NO_PASSWORD", re.Code)
	require.Equal(t, StateIdle, c.State())
	require.Equal(t, []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}, c.Messages())

	gen.err = nil
	gen.bodies = []io.ReadCloser{textBody("second try")}
	require.NoError(t, c.Retry(context.Background()))
	require.Equal(t, "second try", c.Messages()[1].Content)
	require.Len(t, c.Messages(), 2)
}

func TestSubmit_ReadFailureKeepsPartialUncommitted(t *testing.T) {
	body := io.NopCloser(io.MultiReader(strings.NewReader("Hel"), errReader{err: errors.New("reset by peer")}))
	gen := &fakeGenerator{bodies: []io.ReadCloser{body}}
	c := newTestController(t, gen)

	err := c.Submit(context.Background(), "hi")
	require.ErrorContains(t, err, "reset by peer")
	require.Equal(t, StateIdle, c.State())
	require.Len(t, c.Messages(), 1)
	require.Equal(t, "Hel", c.Current())
}

func TestStop_CommitsPartialAndDropsLaterText(t *testing.T) {
	pr, pw := io.Pipe()
	gen := &fakeGenerator{bodies: []io.ReadCloser{pr}}
	got := make(chan string, 4)
	c := newTestController(t, gen, WithChunkHandler(func(s string) { got <- s }))

	done := make(chan error, 1)
	go func() { done <- c.Submit(context.Background(), "hi") }()

	_, err := pw.Write([]byte("Hello, wor"))
	require.NoError(t, err)
	require.Equal(t, "Hello, wor", <-got)
	require.Equal(t, StateStreaming, c.State())

	require.True(t, c.Stop())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("submit did not return after stop")
	}

	// The body was closed by the abort; nothing more reaches the conversation.
	_, err = pw.Write([]byte("ld"))
	require.Error(t, err)

	require.Equal(t, []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "Hello, wor"},
	}, c.Messages())
	require.Equal(t, StateIdle, c.State())
	require.False(t, c.Stop())
}

func TestStop_WhileAwaitingFirstByte(t *testing.T) {
	gen := &fakeGenerator{block: true}
	c := newTestController(t, gen)

	done := make(chan error, 1)
	go func() { done <- c.Submit(context.Background(), "hi") }()

	require.Eventually(t, func() bool { return c.State() == StateAwaitingFirstByte }, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, c.Submit(context.Background(), "another"), ErrBusy)
	require.True(t, c.Stop())
	require.NoError(t, <-done)
	require.Equal(t, []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}, c.Messages())
	require.Equal(t, StateIdle, c.State())
}

func TestRetry(t *testing.T) {
	gen := &fakeGenerator{bodies: []io.ReadCloser{textBody("first"), textBody("second")}}
	c := newTestController(t, gen)

	require.ErrorIs(t, c.Retry(context.Background()), ErrNothingRetry)

	require.NoError(t, c.Submit(context.Background(), "hi"))
	require.NoError(t, c.Retry(context.Background()))
	require.Equal(t, []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "second"},
	}, c.Messages())
	require.Len(t, gen.lastMsgs, 1)
}

func TestClear(t *testing.T) {
	gen := &fakeGenerator{bodies: []io.ReadCloser{textBody("ok")}}
	c := newTestController(t, gen)
	require.NoError(t, c.SetSystem("sys"))
	require.NoError(t, c.Submit(context.Background(), "hi"))

	require.NoError(t, c.Clear())
	require.Empty(t, c.Messages())
	require.Empty(t, c.System())
	require.NoError(t, c.SetSystem("new"))
}

func TestSetTemperature(t *testing.T) {
	c := newTestController(t, &fakeGenerator{})
	require.Error(t, c.SetTemperature(-1))
	require.Error(t, c.SetTemperature(101))
	require.NoError(t, c.SetTemperature(0))
}

func TestState_String(t *testing.T) {
	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "awaiting_first_byte", StateAwaitingFirstByte.String())
	require.Equal(t, "streaming", StateStreaming.String())
	require.Equal(t, "aborting", StateAborting.String())
	require.Equal(t, "unknown", State(9).String())
}
