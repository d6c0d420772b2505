package handler

import (
	"net/http"

	"docchat-go/internal/service"
	"docchat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// TemplateHandler 处理请求/响应模板的增删查。
type TemplateHandler struct {
	templateService service.TemplateService
}

// NewTemplateHandler 创建一个新的 TemplateHandler 实例。
func NewTemplateHandler(templateService service.TemplateService) *TemplateHandler {
	return &TemplateHandler{templateService: templateService}
}

// CreateTemplateRequest 是创建模板的请求体。
type CreateTemplateRequest struct {
	Title string `json:"title" binding:"required"`
	Body  string `json:"body"`
}

func (h *TemplateHandler) List(c *gin.Context) {
	tpls, err := h.templateService.List(currentUser(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, "获取模板失败")
		return
	}
	success(c, tpls)
}

func (h *TemplateHandler) Create(c *gin.Context) {
	var req CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载：title 不能为空")
		return
	}
	tpl, err := h.templateService.Create(currentUser(c), req.Title, req.Body)
	if err != nil {
		fail(c, statusFor(err), err.Error())
		return
	}
	log.Infof("Template '%s' created", tpl.Title)
	success(c, tpl)
}

func (h *TemplateHandler) Delete(c *gin.Context) {
	if err := h.templateService.Delete(currentUser(c), c.Param("id")); err != nil {
		fail(c, statusFor(err), err.Error())
		return
	}
	success(c, nil)
}
