// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
// 服务端使用除 Client 以外的所有段，命令行客户端只使用 Client 和 Log。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Log      LogConfig      `mapstructure:"log"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Seed     SeedConfig     `mapstructure:"seed"`
	Client   ClientConfig   `mapstructure:"client"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// HistoryTTL 是会话历史在 Redis 中的保留时间。
	HistoryTTL time.Duration `mapstructure:"history_ttl"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与上下文包裹格式（可选）。
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	NoResultText string `mapstructure:"no_result_text"`
	// HistoryTurns 限制拼接进提示词的历史轮数，一轮包含用户问题和助手回答两条消息。
	HistoryTurns int `mapstructure:"history_turns"`
}

// SeedConfig 描述服务启动时幂等写入的初始数据。
type SeedConfig struct {
	Users     []SeedUser     `mapstructure:"users"`
	Documents []SeedDocument `mapstructure:"documents"`
}

type SeedUser struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Role     string `mapstructure:"role"`
}

type SeedDocument struct {
	ID       string `mapstructure:"id"`
	Owner    string `mapstructure:"owner"`
	FileName string `mapstructure:"filename"`
	Status   string `mapstructure:"status"`
}

// ClientConfig 存储命令行客户端的配置。
type ClientConfig struct {
	BaseURL string `mapstructure:"base_url"`
	// Transport 为 "http" 或 "websocket"。
	Transport string `mapstructure:"transport"`
	// Stream 为 true 时 HTTP 传输请求 text/event-stream 响应。
	Stream bool `mapstructure:"stream"`
	// FirstByteTimeout 是等待响应首字节的上限，超时按传输错误处理。
	FirstByteTimeout time.Duration `mapstructure:"first_byte_timeout"`
	// RequestTimeout 约束会话目录等非流式请求的总时长。
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	TokenFile      string        `mapstructure:"token_file"`
	HistoryLimit   int           `mapstructure:"history_limit"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.redis.addr", "127.0.0.1:6379")
	v.SetDefault("database.redis.history_ttl", 7*24*time.Hour)
	v.SetDefault("jwt.access_token_expire_hours", 24)
	v.SetDefault("jwt.refresh_token_expire_days", 7)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("llm.prompt.history_turns", 20)
	v.SetDefault("client.base_url", "http://127.0.0.1:8081")
	v.SetDefault("client.transport", "http")
	v.SetDefault("client.stream", true)
	v.SetDefault("client.first_byte_timeout", 60*time.Second)
	v.SetDefault("client.request_timeout", 30*time.Second)
	v.SetDefault("client.token_file", defaultTokenFile())
	v.SetDefault("client.history_limit", 50)
}

func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docchat-token"
	}
	return home + "/.docchat/token"
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	// 环境变量覆盖，例如 DOCCHAT_CLIENT_BASE_URL
	v.SetEnvPrefix("DOCCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
// 读取失败时 panic，供服务端启动使用。
func Init(configPath string) {
	v := newViper()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}
	if err := v.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}

// Load 读取配置并同时写入 Conf。configPath 为空或文件不存在时只使用默认值和环境变量。
func Load(configPath string) (*Config, error) {
	v := newViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if cfg.Client.Transport != "http" && cfg.Client.Transport != "websocket" {
		return nil, fmt.Errorf("client.transport must be http or websocket, got %q", cfg.Client.Transport)
	}
	Conf = cfg
	return &cfg, nil
}
