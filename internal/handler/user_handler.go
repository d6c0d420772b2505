package handler

import (
	"errors"
	"net/http"
	"strings"

	"docchat-go/internal/model"
	"docchat-go/internal/service"
	"docchat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// UserHandler 负责处理所有与普通用户相关的 API 请求。
type UserHandler struct {
	userService service.UserService
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// Register 处理用户注册请求。
func (h *UserHandler) Register(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Register: Invalid request payload, error: %v", err)
		fail(c, http.StatusBadRequest, "无效的请求负载：用户名和密码不能为空")
		return
	}

	user, err := h.userService.Register(req.Username, req.Password)
	if err != nil {
		log.Warnf("Register: User registration failed for '%s', error: %v", req.Username, err)
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusConflict
		}
		fail(c, status, err.Error())
		return
	}

	log.Infof("User '%s' registered successfully", user.Username)
	success(c, user)
}

// Login 处理用户登录请求。
func (h *UserHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Login: Invalid request payload, error: %v", err)
		fail(c, http.StatusBadRequest, "无效的请求负载：用户名和密码不能为空")
		return
	}

	accessToken, refreshToken, err := h.userService.Login(req.Username, req.Password)
	if err != nil {
		log.Warnf("Login: Authentication failed for user '%s', error: %v", req.Username, err)
		if errors.Is(err, service.ErrInvalidCredentials) {
			fail(c, http.StatusUnauthorized, "用户名或密码错误")
			return
		}
		fail(c, http.StatusInternalServerError, "登录失败")
		return
	}

	log.Infof("User '%s' logged in successfully", req.Username)
	success(c, model.LoginResponse{Token: accessToken, RefreshToken: refreshToken})
}

// GetProfile 返回当前用户信息。
func (h *UserHandler) GetProfile(c *gin.Context) {
	success(c, currentUser(c))
}

// Logout 使当前 access token 失效。
func (h *UserHandler) Logout(c *gin.Context) {
	tokenString := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if err := h.userService.Logout(c.Request.Context(), tokenString); err != nil {
		log.Errorf("Logout: failed to revoke token, error: %v", err)
		fail(c, http.StatusInternalServerError, "登出失败")
		return
	}
	success(c, nil)
}

// ChangePassword 处理 POST /auth/change-password。
func (h *UserHandler) ChangePassword(c *gin.Context) {
	var req model.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载：当前密码和新密码不能为空")
		return
	}
	user := currentUser(c)
	if err := h.userService.ChangePassword(user, req.CurrentPassword, req.NewPassword); err != nil {
		log.Warnf("ChangePassword: failed for user '%s', error: %v", user.Username, err)
		fail(c, statusFor(err), err.Error())
		return
	}
	log.Infof("User '%s' changed password", user.Username)
	success(c, nil)
}
