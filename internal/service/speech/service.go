package speech

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/site-forge/backend/internal/config"
	"github.com/zhouzirui/site-forge/backend/internal/metrics"
	"github.com/zhouzirui/site-forge/backend/internal/model/speech"
)

// ErrNotConfigured 转写服务缺少凭证
var ErrNotConfigured = errors.New("transcription API is not configured")

// ErrUnsupportedFormat provider 不接受该音频格式
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// TranscriptionError 转写 provider 调用失败
type TranscriptionError struct {
	Provider string
	Err      error
}

func (e *TranscriptionError) Error() string {
	return e.Provider + " transcription failed: " + e.Err.Error()
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// Transcriber 将音频文件转为文本
type Transcriber interface {
	Transcribe(ctx context.Context, req speech.TranscriptionRequest) (speech.TranscriptionResult, error)
}

// Service 在具体 provider 外统一处理超时、指标与日志
type Service struct {
	provider    string
	transcriber Transcriber
	timeout     time.Duration
}

// NewService 包装 transcriber；timeout 为 0 时沿用调用方的截止时间
func NewService(provider string, transcriber Transcriber, timeout time.Duration) *Service {
	return &Service{provider: provider, transcriber: transcriber, timeout: timeout}
}

// NewServiceFromConfig 根据 SPEECH_PROVIDER 选择 provider。凭证缺失时返回的 Service
// 每次调用都会得到 ErrNotConfigured。
func NewServiceFromConfig(cfg config.SpeechConfig) *Service {
	var transcriber Transcriber
	switch cfg.Provider {
	case "volcengine":
		if _, _, err := resolveCredentials(cfg); err == nil {
			transcriber = NewVolcengineClient(cfg)
		}
		if _, _, err := volcengineAudio(cfg.AudioFormat); err != nil {
			log.Warn().Err(err).Msg("SPEECH_AUDIO_FORMAT 需为 ogg/opus、wav、pcm 或 mp3，否则每帧都会转写失败")
		}
	default:
		if cfg.APIKey != "" {
			transcriber = NewWhisperClient(cfg)
		}
	}
	if transcriber == nil {
		log.Warn().Str("provider", cfg.Provider).Msg("speech credentials missing, relay will report errors")
	}
	return NewService(cfg.Provider, transcriber, cfg.Timeout)
}

// Enabled 是否已接入 provider
func (s *Service) Enabled() bool {
	return s != nil && s.transcriber != nil
}

// Provider 配置的 provider 名称
func (s *Service) Provider() string {
	if s == nil {
		return ""
	}
	return s.provider
}

// Transcribe 施加单次调用超时并记录结果
func (s *Service) Transcribe(ctx context.Context, req speech.TranscriptionRequest) (speech.TranscriptionResult, error) {
	if !s.Enabled() {
		metrics.Transcriptions.WithLabelValues(s.Provider(), "unconfigured").Inc()
		return speech.TranscriptionResult{}, ErrNotConfigured
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	started := time.Now()
	result, err := s.transcriber.Transcribe(ctx, req)
	elapsed := time.Since(started)
	metrics.TranscriptionDuration.WithLabelValues(s.provider).Observe(elapsed.Seconds())

	logger := log.With().Str("provider", s.provider).Str("session", req.SessionID).Dur("elapsed", elapsed).Logger()
	if err != nil {
		metrics.Transcriptions.WithLabelValues(s.provider, "error").Inc()
		logger.Warn().Err(err).Msg("transcription failed")
		var te *TranscriptionError
		if !errors.As(err, &te) {
			err = &TranscriptionError{Provider: s.provider, Err: err}
		}
		return speech.TranscriptionResult{}, err
	}

	metrics.Transcriptions.WithLabelValues(s.provider, "success").Inc()
	logger.Debug().Int("text_len", len(result.Text)).Msg("transcription done")
	if result.Provider == "" {
		result.Provider = s.provider
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now()
	}
	return result, nil
}
