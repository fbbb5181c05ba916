package speech

import (
	"context"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/zhouzirui/site-forge/backend/internal/config"
	"github.com/zhouzirui/site-forge/backend/internal/model/speech"
)

// WhisperProvider OpenAI 兼容转写 provider 名称
const WhisperProvider = "whisper"

// WhisperClient 通过 go-openai 调用 /audio/transcriptions
type WhisperClient struct {
	apiKey string
	model  string
	client *openai.Client
}

// NewWhisperClient 创建转写客户端。超时由调用方的 context 控制。
func NewWhisperClient(cfg config.SpeechConfig) *WhisperClient {
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &WhisperClient{
		apiKey: cfg.APIKey,
		model:  model,
		client: openai.NewClientWithConfig(clientCfg),
	}
}

// Transcribe 上传音频文件并返回识别文本
func (c *WhisperClient) Transcribe(ctx context.Context, req speech.TranscriptionRequest) (speech.TranscriptionResult, error) {
	if c.apiKey == "" {
		return speech.TranscriptionResult{}, ErrNotConfigured
	}

	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:       c.model,
		FilePath:    req.Path,
		Prompt:      req.Prompt,
		Temperature: float32(req.Temperature),
		Language:    req.Language,
		Format:      openai.AudioResponseFormatJSON,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			err = errors.Errorf("status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return speech.TranscriptionResult{}, &TranscriptionError{Provider: WhisperProvider, Err: err}
	}

	return speech.TranscriptionResult{
		Text:      resp.Text,
		Provider:  WhisperProvider,
		Duration:  time.Duration(resp.Duration * float64(time.Second)),
		RequestID: resp.Header().Get("X-Request-Id"),
		CreatedAt: time.Now(),
	}, nil
}
