package transport

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"

	"docchat-go/internal/api"
	"docchat-go/internal/errs"
	"docchat-go/internal/model"
	"docchat-go/pkg/log"
)

const (
	contentTypeEventStream = "text/event-stream"
	streamDone             = "[DONE]"
)

// HTTPTransport 通过 POST /chats/{id}/messages 发送消息。
// 后端可以返回 JSON 单次回复，也可以返回 text/event-stream 流，两者都会被转换为事件。
type HTTPTransport struct {
	client *api.Client
	// stream 为 true 时优先请求流式响应，后端仍可选择单次回复。
	stream bool
}

// NewHTTPTransport 创建 HTTPTransport。
func NewHTTPTransport(client *api.Client, stream bool) *HTTPTransport {
	return &HTTPTransport{client: client, stream: stream}
}

// Send 实现 Transport。
func (t *HTTPTransport) Send(ctx context.Context, req Request) (<-chan Event, error) {
	req, err := Validate(req)
	if err != nil {
		return nil, err
	}

	body := model.SendMessageRequest{
		Message:     req.Text,
		Mode:        req.Context.Mode,
		DocumentIDs: nonNil(req.Context.DocumentIDs),
		TemplateIDs: nonNil(req.Context.TemplateIDs),
	}
	httpReq, err := t.client.NewRequest(ctx, http.MethodPost, api.MessagesPath(req.ConversationID), body)
	if err != nil {
		return nil, err
	}
	if t.stream {
		httpReq.Header.Set("Accept", contentTypeEventStream+", application/json")
	}

	resp, err := t.client.DoStream(httpReq)
	if err != nil {
		return nil, err
	}

	em := newEmitter()
	go func() {
		defer em.close()
		defer resp.Body.Close()

		if isEventStream(resp.Header.Get("Content-Type")) {
			log.Debugw("reading event stream", "chat_id", req.ConversationID)
			readEventStream(ctx, resp, em)
			return
		}
		readSingleShot(ctx, resp, em)
	}()
	return em.ch, nil
}

func readSingleShot(ctx context.Context, resp *http.Response, em *emitter) {
	var out model.SendMessageResponse
	if err := api.DecodeEnvelope(resp.Body, &out); err != nil {
		if ctx.Err() != nil {
			em.fail(api.ClassifyNetworkError(ctx, ctx.Err()))
			return
		}
		em.fail(err)
		return
	}
	em.terminal(Event{Kind: EventComplete, Text: out.Text, MessageID: out.MessageID})
}

func readEventStream(ctx context.Context, resp *http.Response, em *emitter) {
	err := readSSE(resp.Body, func(ev sseEvent) bool {
		switch ev.Name {
		case model.EventEnd:
			var end model.StreamEnd
			_ = json.Unmarshal([]byte(ev.Data), &end)
			em.terminal(Event{Kind: EventEnd, MessageID: end.MessageID})
			return false
		case model.EventError:
			var se model.StreamError
			msg := ev.Data
			if json.Unmarshal([]byte(ev.Data), &se) == nil && se.Error != "" {
				msg = se.Error
			}
			em.fail(errs.Transport(msg, nil))
			return false
		case "", "message", model.EventFragment:
			if strings.TrimSpace(ev.Data) == streamDone {
				em.terminal(Event{Kind: EventEnd})
				return false
			}
			var frag model.StreamFragment
			if err := json.Unmarshal([]byte(ev.Data), &frag); err != nil {
				em.fail(errs.Transport("malformed stream event", err))
				return false
			}
			em.fragment(frag.Fragment)
			return true
		default:
			// 未知事件类型忽略，便于后端扩展
			return true
		}
	})

	switch {
	case em.done:
	case ctx.Err() != nil:
		em.fail(api.ClassifyNetworkError(ctx, ctx.Err()))
	case err != nil:
		em.fail(errs.Transport("stream interrupted", err))
	case !em.sawEvent:
		// 连接在任何数据之前就关闭了，不能视为已送达
		em.fail(errs.Transport("stream closed before any data", errors.New("empty event stream")))
	default:
		// 没有显式结束标记，以连接关闭作为流的结束
		em.terminal(Event{Kind: EventEnd})
	}
}

func isEventStream(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == contentTypeEventStream
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
