package handler

import (
	"docchat-go/internal/middleware"
	"docchat-go/internal/service"
	"docchat-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// Services 汇总路由依赖的业务服务。
type Services struct {
	User         service.UserService
	Conversation service.ConversationService
	Chat         service.ChatService
	Document     service.DocumentService
	Template     service.TemplateService
}

// NewRouter 创建注册了全部 /api/v1 路由的 Gin 引擎。
func NewRouter(svc Services, jwtManager *token.JWTManager) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	userHandler := NewUserHandler(svc.User)
	conversationHandler := NewConversationHandler(svc.Conversation)
	chatHandler := NewChatHandler(svc.Chat, svc.Conversation, svc.User, jwtManager)
	documentHandler := NewDocumentHandler(svc.Document)
	templateHandler := NewTemplateHandler(svc.Template)
	authRequired := middleware.AuthMiddleware(jwtManager, svc.User)

	apiV1 := r.Group("/api/v1")
	{
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", NewAuthHandler(svc.User).RefreshToken)
			auth.POST("/change-password", authRequired, userHandler.ChangePassword)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			authed := users.Group("/")
			authed.Use(authRequired)
			{
				authed.GET("/me", userHandler.GetProfile)
				authed.POST("/logout", userHandler.Logout)
			}
		}

		// WebSocket 握手无法携带授权头，token 走查询参数，由 handler 自行校验
		apiV1.GET("/chats/:id/ws", chatHandler.Handle)

		chats := apiV1.Group("/chats")
		chats.Use(authRequired)
		{
			chats.GET("", conversationHandler.List)
			chats.POST("", conversationHandler.Create)
			chats.GET("/:id/messages", conversationHandler.History)
			chats.POST("/:id/messages", chatHandler.SendMessage)
		}

		documents := apiV1.Group("/documents")
		documents.Use(authRequired)
		{
			documents.GET("/list", documentHandler.List)
			documents.GET("/status/:id", documentHandler.Status)
			documents.DELETE("/:id", documentHandler.Delete)
		}

		templates := apiV1.Group("/templates")
		templates.Use(authRequired)
		{
			templates.GET("", templateHandler.List)
			templates.POST("", templateHandler.Create)
			templates.DELETE("/:id", templateHandler.Delete)
		}
	}
	return r
}
