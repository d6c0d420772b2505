package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"docchat-go/internal/api"
	"docchat-go/internal/config"
	"docchat-go/internal/errs"
	"docchat-go/internal/model"
	"docchat-go/internal/selection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHTTPTransport(server *httptest.Server, stream bool, firstByte time.Duration) *HTTPTransport {
	client := api.NewClient(config.ClientConfig{
		BaseURL:          server.URL,
		FirstByteTimeout: firstByte,
		RequestTimeout:   5 * time.Second,
	}, api.StaticToken("tok"))
	return NewHTTPTransport(client, stream)
}

func testRequest(text string) Request {
	store := selection.NewStore()
	store.ToggleDocument("d1")
	store.ToggleTemplate("t1")
	return Request{ConversationID: "c1", Text: text, Context: store.Snapshot()}
}

func drain(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("event channel was not closed")
		}
	}
}

func writeSSE(w http.ResponseWriter, event, data string) {
	if event != "" {
		fmt.Fprintf(w, "event:%s\n", event)
	}
	fmt.Fprintf(w, "data:%s\n\n", data)
	w.(http.Flusher).Flush()
}

func TestHTTPTransport_SingleShot(t *testing.T) {
	var got model.SendMessageRequest
	var gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/chats/c1/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		gotAccept = r.Header.Get("Accept")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 200, "message": "success",
			"data": model.SendMessageResponse{Text: "Interlocks: ...", MessageID: "srv-1"},
		})
	}))
	defer server.Close()

	ch, err := newHTTPTransport(server, false, time.Second).Send(context.Background(), testRequest("  Summarize the interlocks "))
	require.NoError(t, err)

	events := drain(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, EventComplete, events[0].Kind)
	assert.Equal(t, "Interlocks: ...", events[0].Text)
	assert.Equal(t, "srv-1", events[0].MessageID)

	assert.Equal(t, "application/json", gotAccept)
	assert.Equal(t, "Summarize the interlocks", got.Message)
	assert.Equal(t, model.ModeRAG, got.Mode)
	assert.Equal(t, []string{"d1"}, got.DocumentIDs)
	assert.Equal(t, []string{"t1"}, got.TemplateIDs)
}

func TestHTTPTransport_Stream(t *testing.T) {
	t.Run("fragments in order then end", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Contains(t, r.Header.Get("Accept"), "text/event-stream")
			w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
			for _, f := range []string{"Hel", "lo", " world"} {
				writeSSE(w, "fragment", fmt.Sprintf(`{"fragment":%q}`, f))
			}
			writeSSE(w, "end", `{"message_id":"srv-9"}`)
		}))
		defer server.Close()

		ch, err := newHTTPTransport(server, true, time.Second).Send(context.Background(), testRequest("hi"))
		require.NoError(t, err)

		events := drain(t, ch)
		require.Len(t, events, 4)
		assert.Equal(t, "Hel", events[0].Text)
		assert.Equal(t, "lo", events[1].Text)
		assert.Equal(t, " world", events[2].Text)
		assert.Equal(t, EventEnd, events[3].Kind)
		assert.Equal(t, "srv-9", events[3].MessageID)
	})

	t.Run("done marker terminates", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			writeSSE(w, "", `{"fragment":"a"}`)
			writeSSE(w, "", "[DONE]")
			writeSSE(w, "", `{"fragment":"ignored"}`)
		}))
		defer server.Close()

		ch, err := newHTTPTransport(server, true, time.Second).Send(context.Background(), testRequest("hi"))
		require.NoError(t, err)

		events := drain(t, ch)
		require.Len(t, events, 2)
		assert.Equal(t, EventFragment, events[0].Kind)
		assert.Equal(t, EventEnd, events[1].Kind)
	})

	t.Run("closure without terminator ends the stream", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			writeSSE(w, "fragment", `{"fragment":"partial answer"}`)
		}))
		defer server.Close()

		ch, err := newHTTPTransport(server, true, time.Second).Send(context.Background(), testRequest("hi"))
		require.NoError(t, err)

		events := drain(t, ch)
		require.Len(t, events, 2)
		assert.Equal(t, EventEnd, events[1].Kind)
	})

	t.Run("empty stream is not a delivery", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
		}))
		defer server.Close()

		ch, err := newHTTPTransport(server, true, time.Second).Send(context.Background(), testRequest("hi"))
		require.NoError(t, err)

		events := drain(t, ch)
		require.Len(t, events, 1)
		assert.Equal(t, EventFailed, events[0].Kind)
		assert.True(t, errs.Is(events[0].Err, errs.KindTransport))
	})

	t.Run("error event fails the send", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			writeSSE(w, "fragment", `{"fragment":"x"}`)
			writeSSE(w, "error", `{"error":"AI服务暂时不可用，请稍后重试"}`)
		}))
		defer server.Close()

		ch, err := newHTTPTransport(server, true, time.Second).Send(context.Background(), testRequest("hi"))
		require.NoError(t, err)

		events := drain(t, ch)
		require.Len(t, events, 2)
		assert.Equal(t, EventFailed, events[1].Kind)
		assert.Equal(t, "AI服务暂时不可用，请稍后重试", errs.MessageOf(events[1].Err))
	})

	t.Run("malformed event fails the send", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			writeSSE(w, "fragment", `not json`)
		}))
		defer server.Close()

		ch, err := newHTTPTransport(server, true, time.Second).Send(context.Background(), testRequest("hi"))
		require.NoError(t, err)

		events := drain(t, ch)
		require.Len(t, events, 1)
		assert.Equal(t, EventFailed, events[0].Kind)
	})
}

func TestHTTPTransport_Failures(t *testing.T) {
	t.Run("validation happens before any network call", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hits.Add(1) }))
		defer server.Close()
		tr := newHTTPTransport(server, true, time.Second)

		_, err := tr.Send(context.Background(), testRequest(" \n\t "))
		assert.True(t, errs.Is(err, errs.KindValidation))

		req := testRequest("hello")
		req.ConversationID = ""
		_, err = tr.Send(context.Background(), req)
		assert.True(t, errs.Is(err, errs.KindValidation))

		assert.Zero(t, hits.Load())
	})

	t.Run("401 is unauthorized", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		_, err := newHTTPTransport(server, true, time.Second).Send(context.Background(), testRequest("hi"))
		assert.True(t, errs.Is(err, errs.KindUnauthorized))
	})

	t.Run("502 is a transport error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		_, err := newHTTPTransport(server, true, time.Second).Send(context.Background(), testRequest("hi"))
		assert.True(t, errs.Is(err, errs.KindTransport))
	})

	t.Run("first byte timeout is a transport error", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			<-release
		}))
		defer server.Close()
		defer close(release)

		_, err := newHTTPTransport(server, true, 50*time.Millisecond).Send(context.Background(), testRequest("hi"))
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.KindTransport))
	})

	t.Run("cancellation mid-stream is reported as cancelled", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			writeSSE(w, "fragment", `{"fragment":"par"}`)
			<-release
		}))
		defer server.Close()
		defer close(release)

		ctx, cancel := context.WithCancel(context.Background())
		ch, err := newHTTPTransport(server, true, time.Second).Send(ctx, testRequest("hi"))
		require.NoError(t, err)

		first := <-ch
		assert.Equal(t, EventFragment, first.Kind)
		cancel()

		rest := drain(t, ch)
		require.Len(t, rest, 1)
		assert.Equal(t, EventFailed, rest[0].Kind)
		assert.True(t, errs.Is(rest[0].Err, errs.KindCancelled))
	})
}
