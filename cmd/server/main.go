// Package main 是参考后端服务的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docchat-go/internal/config"
	"docchat-go/internal/handler"
	"docchat-go/internal/repository"
	"docchat-go/internal/service"
	"docchat-go/pkg/database"
	"docchat-go/pkg/llm"
	"docchat-go/pkg/log"
	"docchat-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
)

const defaultConfigPath = "./configs/config.yaml"

// parseFlags 解析命令行参数，返回配置文件路径。
func parseFlags(args []string) (string, error) {
	fs := pflag.NewFlagSet("docchat-server", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", defaultConfigPath, "配置文件路径")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return *configPath, nil
}

func main() {
	configPath, err := parseFlags(os.Args[1:])
	if err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	// 1. 初始化配置
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库和 Redis
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.DB)
	documentRepo := repository.NewDocumentRepository(database.DB)
	templateRepo := repository.NewTemplateRepository(database.DB)
	messageRepo := repository.NewMessageRepository(database.RDB, cfg.Database.Redis.HistoryTTL)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	llmClient := llm.NewClient(cfg.LLM)
	services := handler.Services{
		User:         service.NewUserService(userRepo, jwtManager, database.RDB),
		Conversation: service.NewConversationService(conversationRepo, messageRepo),
		Chat:         service.NewChatService(llmClient, messageRepo, documentRepo, templateRepo, cfg.LLM),
		Document:     service.NewDocumentService(documentRepo, userRepo),
		Template:     service.NewTemplateService(templateRepo),
	}

	// 6. 写入种子用户与文档（幂等）
	if err := services.User.SeedUsers(cfg.Seed.Users); err != nil {
		log.Fatal("写入种子用户失败", err)
	}
	if err := services.Document.SeedDocuments(cfg.Seed.Documents); err != nil {
		log.Fatal("写入种子文档失败", err)
	}

	// 7. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(services, jwtManager)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
