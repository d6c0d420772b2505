package handler

import (
	"net/http"
	"strconv"

	"docchat-go/internal/model"
	"docchat-go/internal/service"
	"docchat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// defaultHistoryLimit 是未指定 limit 时返回的历史条数。
const defaultHistoryLimit = 50

// ConversationHandler 处理会话的创建、列表与历史查询。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// Create 处理 POST /chats。
func (h *ConversationHandler) Create(c *gin.Context) {
	var req model.CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}
	conv, err := h.service.Create(c.Request.Context(), currentUser(c), req)
	if err != nil {
		log.Warnf("CreateChat: failed, error: %v", err)
		fail(c, statusFor(err), err.Error())
		return
	}
	success(c, conv)
}

// List 处理 GET /chats，最近创建的在前。
func (h *ConversationHandler) List(c *gin.Context) {
	convs, err := h.service.List(c.Request.Context(), currentUser(c))
	if err != nil {
		log.Errorf("ListChats: failed, error: %v", err)
		fail(c, http.StatusInternalServerError, "Failed to retrieve conversations")
		return
	}
	success(c, convs)
}

// History 处理 GET /chats/:id/messages。
func (h *ConversationHandler) History(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			fail(c, http.StatusBadRequest, "无效的 limit 参数")
			return
		}
		limit = n
	}
	history, err := h.service.History(c.Request.Context(), currentUser(c), c.Param("id"), limit)
	if err != nil {
		fail(c, statusFor(err), err.Error())
		return
	}
	if history == nil {
		history = []model.ChatMessage{}
	}
	success(c, history)
}
