package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"docchat-go/internal/api"
	"docchat-go/internal/config"
	"docchat-go/internal/errs"
	"docchat-go/internal/model"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func newWSServer(t *testing.T, handle func(conn *websocket.Conn, req model.SendMessageRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req model.SendMessageRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		handle(conn, req)
	}))
}

func newWSTransport(server *httptest.Server, token string, firstByte time.Duration) *WebsocketTransport {
	client := api.NewClient(config.ClientConfig{BaseURL: server.URL}, api.StaticToken(token))
	return NewWebsocketTransport(client, firstByte)
}

func TestWebsocketTransport_Stream(t *testing.T) {
	gotCh := make(chan model.SendMessageRequest, 1)
	server := newWSServer(t, func(conn *websocket.Conn, req model.SendMessageRequest) {
		gotCh <- req
		for _, c := range []string{"Hel", "lo", " world"} {
			_ = conn.WriteJSON(model.WSFrame{Chunk: c})
		}
		_ = conn.WriteJSON(model.WSFrame{Type: model.WSFrameCompletion, Status: "finished", MessageID: "srv-3"})
		_, _, _ = conn.ReadMessage()
	})
	defer server.Close()

	ch, err := newWSTransport(server, "tok", time.Second).Send(context.Background(), testRequest("hi there"))
	require.NoError(t, err)

	events := drain(t, ch)
	require.Len(t, events, 4)
	assert.Equal(t, "Hel", events[0].Text)
	assert.Equal(t, "lo", events[1].Text)
	assert.Equal(t, " world", events[2].Text)
	assert.Equal(t, EventEnd, events[3].Kind)
	assert.Equal(t, "srv-3", events[3].MessageID)

	got := <-gotCh
	assert.Equal(t, "hi there", got.Message)
	assert.Equal(t, []string{"d1"}, got.DocumentIDs)
}

func TestWebsocketTransport_IgnoresEmptyFrames(t *testing.T) {
	server := newWSServer(t, func(conn *websocket.Conn, _ model.SendMessageRequest) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{}`))
		_ = conn.WriteJSON(model.WSFrame{Type: "chunk"})
		_ = conn.WriteJSON(model.WSFrame{Chunk: "Hi"})
		_ = conn.WriteJSON(model.WSFrame{Type: model.WSFrameCompletion, Status: "finished", MessageID: "srv-1"})
		_, _, _ = conn.ReadMessage()
	})
	defer server.Close()

	ch, err := newWSTransport(server, "tok", time.Second).Send(context.Background(), testRequest("hi"))
	require.NoError(t, err)

	events := drain(t, ch)
	require.Len(t, events, 2)
	assert.Equal(t, EventFragment, events[0].Kind)
	assert.Equal(t, "Hi", events[0].Text)
	assert.Equal(t, EventEnd, events[1].Kind)
	assert.Equal(t, "srv-1", events[1].MessageID)
}

func TestWebsocketTransport_ErrorFrame(t *testing.T) {
	server := newWSServer(t, func(conn *websocket.Conn, _ model.SendMessageRequest) {
		_ = conn.WriteJSON(model.WSFrame{Error: "AI服务暂时不可用，请稍后重试"})
	})
	defer server.Close()

	ch, err := newWSTransport(server, "tok", time.Second).Send(context.Background(), testRequest("hi"))
	require.NoError(t, err)

	events := drain(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, EventFailed, events[0].Kind)
	assert.True(t, errs.Is(events[0].Err, errs.KindTransport))
}

func TestWebsocketTransport_RejectedHandshakeIsUnauthorized(t *testing.T) {
	server := newWSServer(t, func(*websocket.Conn, model.SendMessageRequest) {})
	defer server.Close()

	_, err := newWSTransport(server, "wrong", time.Second).Send(context.Background(), testRequest("hi"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindUnauthorized))
}

func TestWebsocketTransport_FirstFrameTimeout(t *testing.T) {
	release := make(chan struct{})
	server := newWSServer(t, func(*websocket.Conn, model.SendMessageRequest) { <-release })
	defer server.Close()
	defer close(release)

	ch, err := newWSTransport(server, "tok", 50*time.Millisecond).Send(context.Background(), testRequest("hi"))
	require.NoError(t, err)

	events := drain(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, EventFailed, events[0].Kind)
	assert.True(t, errs.Is(events[0].Err, errs.KindTransport))
}

func TestWebsocketTransport_Cancel(t *testing.T) {
	release := make(chan struct{})
	server := newWSServer(t, func(conn *websocket.Conn, _ model.SendMessageRequest) {
		_ = conn.WriteJSON(model.WSFrame{Chunk: "par"})
		<-release
	})
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := newWSTransport(server, "tok", time.Second).Send(ctx, testRequest("hi"))
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, EventFragment, first.Kind)
	cancel()

	rest := drain(t, ch)
	require.Len(t, rest, 1)
	assert.True(t, errs.Is(rest[0].Err, errs.KindCancelled))
}
