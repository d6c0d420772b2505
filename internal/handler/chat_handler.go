package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"docchat-go/internal/model"
	"docchat-go/internal/service"
	"docchat-go/pkg/llm"
	"docchat-go/pkg/log"
	"docchat-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理消息发送：普通 HTTP（JSON 或 SSE）与 WebSocket 两种方式。
type ChatHandler struct {
	chatService         service.ChatService
	conversationService service.ConversationService
	userService         service.UserService
	jwtManager          *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, conversationService service.ConversationService, userService service.UserService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		chatService:         chatService,
		conversationService: conversationService,
		userService:         userService,
		jwtManager:          jwtManager,
	}
}

// SendMessage 处理 POST /chats/:id/messages。
// 客户端 Accept 包含 text/event-stream 时以 SSE 分块返回，否则等待完整回答后返回 JSON。
func (h *ChatHandler) SendMessage(c *gin.Context) {
	user := currentUser(c)
	var req model.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	conv, err := h.conversationService.Get(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		fail(c, statusFor(err), err.Error())
		return
	}

	if strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		h.streamSSE(c, user, conv, req)
		return
	}

	// 单次回复：分块由 ChatService 汇总，这里丢弃
	reply, err := h.chatService.StreamResponse(c.Request.Context(), user, conv, req, llm.FragmentWriterFunc(func(string) error {
		return nil
	}))
	if err != nil {
		h.replyError(c, err)
		return
	}
	success(c, model.SendMessageResponse{Text: reply.Content, MessageID: reply.ID})
}

func (h *ChatHandler) replyError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Errorf("处理消息失败: %v", err)
		fail(c, http.StatusBadGateway, "AI服务暂时不可用，请稍后重试")
		return
	}
	fail(c, status, err.Error())
}

// streamSSE 在第一个分块到达时才写出响应头，之前的失败仍可返回普通错误状态码。
func (h *ChatHandler) streamSSE(c *gin.Context, user *model.User, conv *model.Conversation, req model.SendMessageRequest) {
	started := false
	start := func() {
		if started {
			return
		}
		started = true
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Status(http.StatusOK)
	}

	reply, err := h.chatService.StreamResponse(c.Request.Context(), user, conv, req, llm.FragmentWriterFunc(func(f string) error {
		start()
		c.SSEvent(model.EventFragment, model.StreamFragment{Fragment: f})
		c.Writer.Flush()
		return nil
	}))
	if err != nil {
		if !started {
			h.replyError(c, err)
			return
		}
		log.Errorf("流式响应中断: %v", err)
		c.SSEvent(model.EventError, model.StreamError{Error: "AI服务暂时不可用，请稍后重试"})
		c.Writer.Flush()
		return
	}
	start()
	c.SSEvent(model.EventEnd, model.StreamEnd{MessageID: reply.ID})
	c.Writer.Flush()
}

// Handle 处理 GET /chats/:id/ws 的 WebSocket 连接。token 通过查询参数传递。
// 每收到一条 JSON 请求就流式返回一轮回答，以 completion 帧结束。
func (h *ChatHandler) Handle(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Query("token"))
	if err != nil {
		fail(c, http.StatusUnauthorized, "无效的 token")
		return
	}
	if revoked, err := h.userService.IsRevoked(c.Request.Context(), c.Query("token")); err == nil && revoked {
		fail(c, http.StatusUnauthorized, "token 已失效")
		return
	}
	user, err := h.userService.GetProfile(claims.Username)
	if err != nil {
		fail(c, http.StatusUnauthorized, "用户不存在")
		return
	}
	conv, err := h.conversationService.Get(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		fail(c, statusFor(err), err.Error())
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("WebSocket 连接已建立，用户: %s, 会话: %s", claims.Username, conv.ID)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		var req model.SendMessageRequest
		if err := json.Unmarshal(message, &req); err != nil {
			writeFrame(conn, model.WSFrame{Error: "无效的消息格式"})
			continue
		}

		reply, err := h.chatService.StreamResponse(c.Request.Context(), user, conv, req, llm.FragmentWriterFunc(func(f string) error {
			return conn.WriteJSON(model.WSFrame{Chunk: f})
		}))
		if err != nil {
			log.Errorf("处理流式响应失败: %v", err)
			msg := "AI服务暂时不可用，请稍后重试"
			if statusFor(err) == http.StatusBadRequest {
				msg = err.Error()
			}
			writeFrame(conn, model.WSFrame{Error: msg})
			continue
		}
		writeFrame(conn, model.WSFrame{
			Type:      model.WSFrameCompletion,
			Status:    "finished",
			Message:   "响应已完成",
			MessageID: reply.ID,
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

func writeFrame(conn *websocket.Conn, frame model.WSFrame) {
	if err := conn.WriteJSON(frame); err != nil {
		log.Warnf("写入 WebSocket 帧失败: %v", err)
	}
}
