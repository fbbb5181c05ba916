package speech

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/zhouzirui/site-forge/backend/internal/config"
)

// resolveCredentials 返回火山引擎 AppID 与 AccessToken，SPEECH_API_KEY 可作为 token 兜底。
func resolveCredentials(cfg config.SpeechConfig) (string, string, error) {
	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}

	if appID == "" || token == "" {
		return "", "", errors.Wrap(ErrNotConfigured, "火山引擎语音配置缺少 AppID 或 AccessToken")
	}

	return appID, token, nil
}
