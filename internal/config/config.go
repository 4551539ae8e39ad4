package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Completion providers.
const (
	ProviderOpenAI  = "openai"
	ProviderArk     = "ark"
	ProviderBedrock = "bedrock"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server     ServerConfig
	Completion CompletionConfig
	Gateway    GatewayConfig
	Log        LogConfig
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	MaxBodyBytes   int64    `env:"MAX_BODY_BYTES" envDefault:"65536"`

	// Addr 由 Port 推导。
	Addr string
}

// CompletionConfig 描述远端大模型服务配置。APIKey 只在服务端使用。
type CompletionConfig struct {
	Provider     string `env:"COMPLETION_PROVIDER" envDefault:"openai"`
	APIKey       string `env:"COMPLETION_API_KEY"`
	BaseURL      string `env:"COMPLETION_BASE_URL"`
	Model        string `env:"COMPLETION_MODEL" envDefault:"gpt-4o-mini"`
	ArkAccessKey string `env:"ARK_ACCESS_KEY"`
	ArkSecretKey string `env:"ARK_SECRET_KEY"`
	ArkRegion    string `env:"ARK_REGION" envDefault:"cn-beijing"`
	AWSRegion    string `env:"AWS_REGION" envDefault:"us-east-1"`
}

// GatewayConfig 控制信任边界上的上限与重试策略。
type GatewayConfig struct {
	MaxOutputTokens      int           `env:"GATEWAY_MAX_OUTPUT_TOKENS" envDefault:"512"`
	MaxTurns             int           `env:"GATEWAY_MAX_TURNS" envDefault:"40"`
	MaxContentBytes      int           `env:"GATEWAY_MAX_CONTENT_BYTES" envDefault:"32768"`
	RequestTimeout       time.Duration `env:"GATEWAY_REQUEST_TIMEOUT" envDefault:"30s"`
	MaxAttempts          uint          `env:"GATEWAY_MAX_ATTEMPTS" envDefault:"3"`
	RetryInitialInterval time.Duration `env:"GATEWAY_RETRY_INITIAL_INTERVAL" envDefault:"250ms"`
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"console"`
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	addr, err := resolveAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	cfg.Completion.Provider = strings.ToLower(strings.TrimSpace(cfg.Completion.Provider))
	if err := cfg.Completion.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Gateway.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// resolveAddr 解析服务器监听地址。
func resolveAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// Enabled 表示是否提供了必需的凭证。
func (c CompletionConfig) Enabled() bool {
	switch c.Provider {
	case ProviderOpenAI:
		return c.APIKey != "" && c.Model != ""
	case ProviderArk:
		return c.Model != "" && (c.APIKey != "" || (c.ArkAccessKey != "" && c.ArkSecretKey != ""))
	case ProviderBedrock:
		// 凭证走 AWS 默认链。
		return c.Model != ""
	default:
		return false
	}
}

func (c CompletionConfig) validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderArk, ProviderBedrock:
		return nil
	default:
		return fmt.Errorf("invalid COMPLETION_PROVIDER value: %q", c.Provider)
	}
}

func (c GatewayConfig) validate() error {
	if c.MaxOutputTokens < 1 {
		return fmt.Errorf("GATEWAY_MAX_OUTPUT_TOKENS must be positive, got %d", c.MaxOutputTokens)
	}
	if c.MaxTurns < 1 {
		return fmt.Errorf("GATEWAY_MAX_TURNS must be positive, got %d", c.MaxTurns)
	}
	if c.MaxContentBytes < 1 {
		return fmt.Errorf("GATEWAY_MAX_CONTENT_BYTES must be positive, got %d", c.MaxContentBytes)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("GATEWAY_REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("GATEWAY_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}
