package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Speech SpeechConfig
	Store  StoreConfig
	Log    LogConfig
}

// Load 从环境变量加载配置。缺少模型凭证不会报错，由各服务在调用时返回 ErrNotConfigured。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		AI:     ai,
		Speech: speech,
		Store:  store,
		Log:    loadLogConfig(),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	PublicBaseURL  string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8000"
	}

	cfg := ServerConfig{
		PublicBaseURL:  strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/"),
		AllowedOrigins: splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173")),
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8000" 或 "127.0.0.1:8000"。
		cfg.Addr = port
		return cfg, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	cfg.Addr = ":" + port
	return cfg, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey           string
	AccessKey        string
	SecretKey        string
	Model            string
	VisionModel      string
	BaseURL          string
	Region           string
	Temperature      *float64
	MaxTokens        *int
	Timeout          time.Duration
	MaxRetries       int
	ImageConcurrency int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建文本生成模型。
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	return c.newArkModel(ctx, c.Model)
}

// NewVisionModel 创建用于分析参考图片的模型，未单独配置时复用文本模型。
func (c AIConfig) NewVisionModel(ctx context.Context) (model.BaseChatModel, error) {
	name := c.VisionModel
	if name == "" {
		name = c.Model
	}
	return c.newArkModel(ctx, name)
}

func (c AIConfig) newArkModel(ctx context.Context, modelName string) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + AI_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	var timeout *time.Duration
	if c.Timeout > 0 {
		val := c.Timeout
		timeout = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		Timeout:     timeout,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       modelName,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("AI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("AI_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	timeout, err := parseDurationEnv("AI_TIMEOUT", 120*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	retries, err := parseIntEnv("AI_MAX_RETRIES", 0)
	if err != nil {
		return AIConfig{}, err
	}
	if retries < 0 {
		retries = 0
	}

	concurrency, err := parseIntEnv("AI_IMAGE_CONCURRENCY", 4)
	if err != nil {
		return AIConfig{}, err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	modelName := strings.TrimSpace(os.Getenv("AI_MODEL"))
	if modelName == "" {
		modelName = strings.TrimSpace(os.Getenv("Model"))
	}

	return AIConfig{
		APIKey:           strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:        strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:        strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:            modelName,
		VisionModel:      strings.TrimSpace(os.Getenv("AI_VISION_MODEL")),
		BaseURL:          getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:           getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:      temperature,
		MaxTokens:        maxTokens,
		Timeout:          timeout,
		MaxRetries:       retries,
		ImageConcurrency: concurrency,
	}, nil
}

// SpeechConfig 描述语音转写相关配置
type SpeechConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Language    string
	Temperature float64
	Prompt      string
	AudioFormat string
	Timeout     time.Duration

	// Volcengine 专用
	AppID       string
	AccessToken string
	Concurrent  bool
}

// DefaultTranscriptionPrompt 引导转写模型输出网站描述类文本。
const DefaultTranscriptionPrompt = "This is a description of a website design. The speaker is describing the features and layout they want."

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseDurationEnv("SPEECH_TIMEOUT", 30*time.Second)
	if err != nil {
		return SpeechConfig{}, err
	}

	temperature := 0.2
	if override, err := parseOptionalFloatEnv("SPEECH_TEMPERATURE"); err != nil {
		return SpeechConfig{}, err
	} else if override != nil {
		temperature = *override
	}

	concurrent, err := parseBoolEnv("SPEECH_CONCURRENT_MODE", false)
	if err != nil {
		return SpeechConfig{}, err
	}

	apiKey := strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	if apiKey == "" {
		// 与原 Whisper 部署保持兼容
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}

	provider := strings.ToLower(getEnvOrDefault("SPEECH_PROVIDER", "whisper"))
	switch provider {
	case "whisper", "volcengine":
	default:
		return SpeechConfig{}, fmt.Errorf("invalid SPEECH_PROVIDER value: %q", provider)
	}

	return SpeechConfig{
		Provider:    provider,
		APIKey:      apiKey,
		BaseURL:     strings.TrimRight(getEnvOrDefault("SPEECH_BASE_URL", "https://api.openai.com/v1"), "/"),
		Model:       getEnvOrDefault("SPEECH_MODEL", "whisper-1"),
		Language:    getEnvOrDefault("SPEECH_LANGUAGE", "en"),
		Temperature: temperature,
		Prompt:      getEnvOrDefault("SPEECH_PROMPT", DefaultTranscriptionPrompt),
		AudioFormat: strings.TrimPrefix(getEnvOrDefault("SPEECH_AUDIO_FORMAT", "webm"), "."),
		Timeout:     timeout,
		AppID:       strings.TrimSpace(os.Getenv("SPEECH_APP_ID")),
		AccessToken: strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN")),
		Concurrent:  concurrent,
	}, nil
}

// StoreConfig 描述站点持久化配置。
type StoreConfig struct {
	DSN          string
	SlugAttempts int
}

// InMemory 表示使用进程内存储（测试或临时部署）。
func (c StoreConfig) InMemory() bool {
	return strings.EqualFold(c.DSN, "memory")
}

func loadStoreConfig() (StoreConfig, error) {
	attempts, err := parseIntEnv("SITE_SLUG_ATTEMPTS", 5)
	if err != nil {
		return StoreConfig{}, err
	}
	if attempts < 1 {
		attempts = 1
	}

	return StoreConfig{
		DSN:          getEnvOrDefault("DATABASE_DSN", "file:websites.db?_busy_timeout=5000"),
		SlugAttempts: attempts,
	}, nil
}

// LogConfig 日志级别与输出格式。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "json")),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
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

func parseIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	// 纯数字按秒处理，兼容旧的 SPEECH_TIMEOUT=30 写法
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
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
