package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"docchat-go/internal/api"
	"docchat-go/internal/errs"
	"docchat-go/internal/model"
	"docchat-go/pkg/log"

	"github.com/gorilla/websocket"
)

// WebsocketTransport 每次发送建立一条 websocket 连接：写入一条 JSON 请求，
// 读取 {"chunk": ...} 分块直到 {"type":"completion"} 完成帧。
type WebsocketTransport struct {
	client *api.Client
	dialer *websocket.Dialer
	// firstByteTimeout 是等待第一帧的上限，0 表示不限制。
	firstByteTimeout time.Duration
}

// NewWebsocketTransport 创建 WebsocketTransport。
func NewWebsocketTransport(client *api.Client, firstByteTimeout time.Duration) *WebsocketTransport {
	dialer := *websocket.DefaultDialer
	if firstByteTimeout > 0 {
		dialer.HandshakeTimeout = firstByteTimeout
	}
	return &WebsocketTransport{client: client, dialer: &dialer, firstByteTimeout: firstByteTimeout}
}

// Send 实现 Transport。
func (t *WebsocketTransport) Send(ctx context.Context, req Request) (<-chan Event, error) {
	req, err := Validate(req)
	if err != nil {
		return nil, err
	}
	wsURL, err := t.client.WebsocketURL(req.ConversationID)
	if err != nil {
		return nil, err
	}

	conn, resp, err := t.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, errs.Unauthorized("credential rejected", err)
		}
		if resp != nil {
			return nil, errs.Transport("websocket handshake failed: "+resp.Status, err)
		}
		return nil, api.ClassifyNetworkError(ctx, err)
	}

	payload := model.SendMessageRequest{
		Message:     req.Text,
		Mode:        req.Context.Mode,
		DocumentIDs: nonNil(req.Context.DocumentIDs),
		TemplateIDs: nonNil(req.Context.TemplateIDs),
	}
	if err := conn.WriteJSON(payload); err != nil {
		_ = conn.Close()
		return nil, errs.Transport("failed to send message", err)
	}
	if t.firstByteTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(t.firstByteTimeout))
	}

	em := newEmitter()
	stop := make(chan struct{})
	go func() {
		// 取消时关闭连接，让阻塞中的读取立即返回
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()
	go func() {
		defer em.close()
		defer close(stop)
		defer conn.Close()
		t.readFrames(ctx, conn, em)
	}()
	return em.ch, nil
}

func (t *WebsocketTransport) readFrames(ctx context.Context, conn *websocket.Conn, em *emitter) {
	first := true
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				em.fail(api.ClassifyNetworkError(ctx, ctx.Err()))
			case isTimeout(err):
				em.fail(errs.Transport("timed out waiting for the server", err))
			case websocket.IsCloseError(err, websocket.CloseNormalClosure) && em.sawEvent:
				// 服务端在分块之后正常关闭连接，视为流结束
				em.terminal(Event{Kind: EventEnd})
			default:
				em.fail(errs.Transport("stream interrupted", err))
			}
			return
		}
		if first {
			first = false
			_ = conn.SetReadDeadline(time.Time{})
		}

		var frame model.WSFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			em.fail(errs.Transport("malformed stream frame", err))
			return
		}
		switch {
		case frame.Error != "":
			em.fail(errs.Transport(frame.Error, nil))
			return
		case frame.Type == model.WSFrameCompletion:
			em.terminal(Event{Kind: EventEnd, MessageID: frame.MessageID})
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case (frame.Type == "" || frame.Type == "chunk") && frame.Chunk != "":
			em.fragment(frame.Chunk)
		default:
			log.Debugw("ignoring websocket frame", "type", frame.Type)
		}
	}
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
