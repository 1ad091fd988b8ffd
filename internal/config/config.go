package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// Provider names accepted by GATEWAY_PROVIDER.
const (
	ProviderOpenRouter = "openrouter"
	ProviderArk        = "ark"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreBolt   = "bolt"
	StoreMemory = "memory"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Gateway GatewayConfig
	Store   StoreConfig
	Catalog CatalogConfig
	Auth    AuthConfig
	Log     LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	gateway, err := loadGatewayConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	catalog, err := loadCatalogConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Gateway: gateway,
		Store:   store,
		Catalog: catalog,
		Auth:    auth,
		Log:     loadLogConfig(),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// GatewayConfig describes the remote text-generation gateway.
type GatewayConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Ark         ArkConfig
}

// ArkConfig holds Volcengine Ark credentials used when Provider is "ark".
type ArkConfig struct {
	APIKey    string
	AccessKey string
	SecretKey string
	BaseURL   string
	Region    string
}

// Enabled 表示是否提供了必需的密钥。
func (c GatewayConfig) Enabled() bool {
	switch c.Provider {
	case ProviderArk:
		return c.Ark.APIKey != "" || (c.Ark.AccessKey != "" && c.Ark.SecretKey != "")
	default:
		return c.APIKey != ""
	}
}

// NewChatModel builds a chat model bound to one model identifier.
func (c GatewayConfig) NewChatModel(ctx context.Context, modelID string) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("%s credentials are not configured", c.Provider)
	}
	if strings.TrimSpace(modelID) == "" {
		return nil, fmt.Errorf("model identifier is required")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	if c.Provider == ProviderArk {
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     c.Ark.BaseURL,
			Region:      c.Ark.Region,
			APIKey:      c.Ark.APIKey,
			AccessKey:   c.Ark.AccessKey,
			SecretKey:   c.Ark.SecretKey,
			Model:       modelID,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			TopP:        topP,
		})
	}

	return openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      c.APIKey,
		BaseURL:     c.BaseURL,
		Timeout:     c.Timeout,
		Model:       modelID,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	})
}

func loadGatewayConfig() (GatewayConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("GATEWAY_PROVIDER", ProviderOpenRouter))
	if provider != ProviderOpenRouter && provider != ProviderArk {
		return GatewayConfig{}, fmt.Errorf("invalid GATEWAY_PROVIDER value %q", provider)
	}

	temperature, err := parseOptionalFloatEnv("GATEWAY_TEMPERATURE")
	if err != nil {
		return GatewayConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("GATEWAY_TOP_P")
	if err != nil {
		return GatewayConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("GATEWAY_MAX_TOKENS")
	if err != nil {
		return GatewayConfig{}, err
	}

	var timeout time.Duration
	if seconds, err := parseOptionalIntEnv("GATEWAY_TIMEOUT"); err != nil {
		return GatewayConfig{}, err
	} else if seconds != nil && *seconds > 0 {
		timeout = time.Duration(*seconds) * time.Second
	}

	return GatewayConfig{
		Provider:    provider,
		APIKey:      strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")),
		BaseURL:     getEnvOrDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		Timeout:     timeout,
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
		Ark: ArkConfig{
			APIKey:    strings.TrimSpace(os.Getenv("ARK_API_KEY")),
			AccessKey: strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
			SecretKey: strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
			BaseURL:   getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
			Region:    getEnvOrDefault("ARK_REGION", "cn-beijing"),
		},
	}, nil
}

// StoreConfig selects the conversation store backend.
type StoreConfig struct {
	Driver string
	Path   string
}

func loadStoreConfig() (StoreConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("STORE_DRIVER", StoreBolt))
	if driver != StoreBolt && driver != StoreMemory {
		return StoreConfig{}, fmt.Errorf("invalid STORE_DRIVER value %q", driver)
	}
	return StoreConfig{
		Driver: driver,
		Path:   getEnvOrDefault("STORE_PATH", "data/polymind.bolt"),
	}, nil
}

// CatalogConfig controls where model metadata comes from.
type CatalogConfig struct {
	File    string
	Refresh bool
}

func loadCatalogConfig() (CatalogConfig, error) {
	refresh, err := parseBoolEnv("CATALOG_REFRESH", false)
	if err != nil {
		return CatalogConfig{}, err
	}
	return CatalogConfig{
		File:    strings.TrimSpace(os.Getenv("CATALOG_FILE")),
		Refresh: refresh,
	}, nil
}

// AuthConfig 描述调用方身份解析方式。
type AuthConfig struct {
	// Tokens maps bearer tokens to user identifiers.
	Tokens map[string]string
	// UserHeader names a header set by a trusted upstream proxy.
	UserHeader string
}

func loadAuthConfig() (AuthConfig, error) {
	tokens, err := parseTokenTable(os.Getenv("AUTH_TOKENS"))
	if err != nil {
		return AuthConfig{}, err
	}
	return AuthConfig{
		Tokens:     tokens,
		UserHeader: strings.TrimSpace(os.Getenv("AUTH_USER_HEADER")),
	}, nil
}

// parseTokenTable parses "token=user,token2=user2".
func parseTokenTable(raw string) (map[string]string, error) {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, user, ok := strings.Cut(pair, "=")
		token, user = strings.TrimSpace(token), strings.TrimSpace(user)
		if !ok || token == "" || user == "" {
			return nil, fmt.Errorf("invalid AUTH_TOKENS entry %q", pair)
		}
		tokens[token] = user
	}
	return tokens, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	File  string
	Level slog.Level
}

func loadLogConfig() LogConfig {
	return LogConfig{
		File:  strings.TrimSpace(os.Getenv("LOG_FILE")),
		Level: parseLogLevel(getEnvOrDefault("LOG_LEVEL", "INFO")),
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
