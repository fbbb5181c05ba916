package speech

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/site-forge/backend/internal/config"
	"github.com/zhouzirui/site-forge/backend/internal/model/speech"
	"github.com/zhouzirui/site-forge/backend/internal/service/session"
)

// SpeechService 抽象转写服务，便于测试替换
type SpeechService interface {
	Transcribe(ctx context.Context, req speech.TranscriptionRequest) (speech.TranscriptionResult, error)
}

// RelayOptions 每个音频帧的转写参数
type RelayOptions struct {
	AudioFormat string
	Language    string
	Temperature float64
	Prompt      string
	// TempDir 为空时使用系统临时目录
	TempDir string
	// AllowedOrigins 为空或包含 "*" 时接受任意 Origin
	AllowedOrigins []string
}

// OptionsFromConfig 从语音配置构造 relay 参数
func OptionsFromConfig(cfg config.SpeechConfig, allowedOrigins []string) RelayOptions {
	return RelayOptions{
		AudioFormat:    cfg.AudioFormat,
		Language:       cfg.Language,
		Temperature:    cfg.Temperature,
		Prompt:         cfg.Prompt,
		AllowedOrigins: allowedOrigins,
	}
}

// Handler 语音 relay 的 HTTP 入口
type Handler struct {
	speechSvc SpeechService
	registry  *session.Registry
	opts      RelayOptions
	upgrader  websocket.Upgrader
}

// New 创建 relay 处理器
func New(speechSvc SpeechService, registry *session.Registry, opts RelayOptions) *Handler {
	if opts.AudioFormat == "" {
		opts.AudioFormat = "webm"
	}
	if opts.Language == "" {
		opts.Language = "en"
	}

	h := &Handler{
		speechSvc: speechSvc,
		registry:  registry,
		opts:      opts,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  4096,
		WriteBufferSize: 1024,
	}
	return h
}

// RegisterRoutes 注册 WebSocket 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
