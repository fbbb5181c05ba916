package speech

import "time"

// TranscriptionResult 转写结果
type TranscriptionResult struct {
	Text      string        `json:"text"`
	Provider  string        `json:"provider"`
	Duration  time.Duration `json:"duration"` // 服务端返回的音频时长，未知时为 0
	RequestID string        `json:"requestId,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Reply 是 relay 对每个音频帧的应答
type Reply struct {
	Status        string  `json:"status"`
	Transcription *string `json:"transcription,omitempty"`
	Message       string  `json:"message,omitempty"`
}

// Reply 状态取值
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// SuccessReply 转写成功的应答，空文本也会输出 "transcription": ""
func SuccessReply(text string) Reply {
	return Reply{Status: StatusSuccess, Transcription: &text}
}

// ErrorReply 帧处理失败的应答
func ErrorReply(message string) Reply {
	return Reply{Status: StatusError, Message: message}
}
