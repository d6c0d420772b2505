package main

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"docchat-go/internal/errs"
	"docchat-go/internal/model"
	"docchat-go/internal/selection"
	"docchat-go/internal/session"
	"docchat-go/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replayTransport 每次发送回放一组预先准备的事件，并记录收到的请求。
type replayTransport struct {
	mu      sync.Mutex
	scripts [][]transport.Event
	sent    []transport.Request
}

func (t *replayTransport) Send(_ context.Context, req transport.Request) (<-chan transport.Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, req)
	var script []transport.Event
	if len(t.scripts) > 0 {
		script, t.scripts = t.scripts[0], t.scripts[1:]
	}
	ch := make(chan transport.Event, len(script))
	for _, ev := range script {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func newTestREPL(scripts ...[]transport.Event) (*repl, *replayTransport, *bytes.Buffer) {
	out := &bytes.Buffer{}
	tr := &replayTransport{scripts: scripts}
	sel := selection.NewStore()
	conv := model.Conversation{ID: "c1", Name: "Boiler QA", Mode: model.ModeRAG}
	orch := session.New(conv, tr, sel, session.WithObserver(newRenderer(out).observe))
	return &repl{out: out, sel: sel, orch: orch}, tr, out
}

func TestRenderer_Streaming(t *testing.T) {
	r, _, out := newTestREPL([]transport.Event{
		{Kind: transport.EventFragment, Text: "The maximum "},
		{Kind: transport.EventFragment, Text: "is 42 bar."},
		{Kind: transport.EventEnd, MessageID: "m1"},
	})

	assert.False(t, r.handle(context.Background(), "max pressure?"))
	assert.Equal(t, "assistant> The maximum is 42 bar.\n", out.String())
}

func TestRenderer_SingleShot(t *testing.T) {
	r, _, out := newTestREPL([]transport.Event{{Kind: transport.EventComplete, Text: "42 bar", MessageID: "m1"}})

	r.handle(context.Background(), "max pressure?")
	assert.Equal(t, "assistant> 42 bar\n", out.String())
}

func TestRenderer_CompleteAfterFragments(t *testing.T) {
	r, _, out := newTestREPL([]transport.Event{
		{Kind: transport.EventFragment, Text: "Hel"},
		{Kind: transport.EventComplete, Text: "Hello world"},
	})

	r.handle(context.Background(), "hi")
	assert.Equal(t, "assistant> Hel\nassistant> Hello world\n", out.String())
}

func TestRenderer_FailureAfterFragments(t *testing.T) {
	r, _, out := newTestREPL([]transport.Event{
		{Kind: transport.EventFragment, Text: "partial"},
		{Kind: transport.EventFailed, Err: errs.Transport("stream interrupted", nil)},
	})

	r.handle(context.Background(), "q")
	assert.Equal(t, "assistant> partial\nassistant> [Error: failed to get response (stream interrupted)]\n", out.String())
}

func TestREPL_RetryResendsFailedQuestion(t *testing.T) {
	r, tr, out := newTestREPL(
		[]transport.Event{{Kind: transport.EventFailed, Err: errs.Transport("server returned 502", nil)}},
		[]transport.Event{{Kind: transport.EventComplete, Text: "42 bar"}},
	)
	ctx := context.Background()

	r.handle(ctx, "max pressure?")
	r.handle(ctx, "/retry")

	require.Len(t, tr.sent, 2)
	assert.Equal(t, "max pressure?", tr.sent[1].Text)
	assert.Contains(t, out.String(), "[Error: failed to get response (server returned 502)]")
	assert.True(t, strings.HasSuffix(out.String(), "assistant> 42 bar\n"))

	out.Reset()
	r.handle(ctx, "/retry")
	assert.Equal(t, "! nothing to retry\n", out.String())
}

func TestREPL_SelectionCommandsShapeNextSend(t *testing.T) {
	r, tr, out := newTestREPL([]transport.Event{{Kind: transport.EventComplete, Text: "ok"}})
	ctx := context.Background()

	r.handle(ctx, "/mode flare")
	r.handle(ctx, "/doc boiler-manual")
	r.handle(ctx, "/doc pump-spec")
	r.handle(ctx, "/doc pump-spec")
	r.handle(ctx, "/template bullets")
	r.handle(ctx, "/mode nonsense")
	r.handle(ctx, "question")

	require.Len(t, tr.sent, 1)
	snap := tr.sent[0].Context
	assert.Equal(t, model.ModeFlare, snap.Mode)
	assert.Equal(t, []string{"boiler-manual"}, snap.DocumentIDs)
	assert.Equal(t, []string{"bullets"}, snap.TemplateIDs)
	assert.Contains(t, out.String(), "document pump-spec deselected")
	assert.Contains(t, out.String(), `! unknown mode "nonsense"`)

	out.Reset()
	r.handle(ctx, "/context")
	assert.Equal(t, "Docs: 1 / Templates: 1\nmode: Flare\ndocuments: boiler-manual\ntemplates: bullets\n", out.String())
}

func TestREPL_Run(t *testing.T) {
	r, tr, out := newTestREPL([]transport.Event{{Kind: transport.EventComplete, Text: "hi"}})

	err := r.run(context.Background(), strings.NewReader("\n  \nhello\n/history\n/quit\nnever sent\n"))
	require.NoError(t, err)
	require.Len(t, tr.sent, 1)
	assert.Equal(t, "assistant> hi\nyou> hello\nassistant> hi\n", out.String())
}

func TestREPL_UnknownCommand(t *testing.T) {
	r, tr, out := newTestREPL()

	assert.False(t, r.handle(context.Background(), "/frobnicate"))
	assert.Empty(t, tr.sent)
	assert.Equal(t, "! unknown command /frobnicate (try /help)\n", out.String())
	assert.True(t, r.handle(context.Background(), "/quit"))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitUnauthorized, exitCode(errs.Unauthorized("credential expired", nil)))
	assert.Equal(t, exitCancelled, exitCode(errs.Cancelled(context.Canceled)))
	assert.Equal(t, exitFailure, exitCode(errs.Transport("server returned 502", nil)))
	assert.Equal(t, exitFailure, exitCode(errs.Validation("conversation name must not be empty")))
}

func TestAbbreviate(t *testing.T) {
	assert.Equal(t, "short", abbreviate("short", 10))
	assert.Equal(t, "a b c", abbreviate("a\n b\tc", 10))
	assert.Equal(t, "abcd…", abbreviate("abcdefgh", 5))
}

func TestReadSecret(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("old-pw\r\nnew-pw\n"))
	prompt := &bytes.Buffer{}

	flagged, err := readSecret(in, prompt, "Current password", "from-flag")
	require.NoError(t, err)
	assert.Equal(t, "from-flag", flagged)
	assert.Empty(t, prompt.String())

	current, err := readSecret(in, prompt, "Current password", "")
	require.NoError(t, err)
	next, err := readSecret(in, prompt, "New password", "")
	require.NoError(t, err)
	assert.Equal(t, "old-pw", current)
	assert.Equal(t, "new-pw", next)
	assert.Equal(t, "Current password: New password: ", prompt.String())

	_, err = readSecret(in, prompt, "New password", "")
	assert.True(t, errs.Is(err, errs.KindValidation))
	assert.Equal(t, "new password is required", errs.MessageOf(err))
}
