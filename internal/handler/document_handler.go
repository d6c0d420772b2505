package handler

import (
	"net/http"
	"strconv"

	"docchat-go/internal/service"
	"docchat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// DocumentHandler 处理文档列表、状态查询与删除。
type DocumentHandler struct {
	documentService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(documentService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documentService: documentService}
}

// List 处理 GET /documents/list?page=。
func (h *DocumentHandler) List(c *gin.Context) {
	page := 1
	if raw := c.Query("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			fail(c, http.StatusBadRequest, "无效的 page 参数")
			return
		}
		page = n
	}
	result, err := h.documentService.List(currentUser(c), page)
	if err != nil {
		fail(c, http.StatusInternalServerError, "获取文档列表失败")
		return
	}
	success(c, result)
}

// Status 处理 GET /documents/status/:id。
func (h *DocumentHandler) Status(c *gin.Context) {
	status, err := h.documentService.Status(currentUser(c), c.Param("id"))
	if err != nil {
		fail(c, statusFor(err), err.Error())
		return
	}
	success(c, status)
}

// Delete 处理 DELETE /documents/:id。
func (h *DocumentHandler) Delete(c *gin.Context) {
	user := currentUser(c)
	if err := h.documentService.Delete(user, c.Param("id")); err != nil {
		log.Warnf("DeleteDocument: failed for user %s, id %s, err: %v", user.Username, c.Param("id"), err)
		fail(c, statusFor(err), err.Error())
		return
	}
	success(c, nil)
}
