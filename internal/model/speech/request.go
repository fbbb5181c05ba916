package speech

// TranscriptionRequest 一段待转写的音频，音频已落盘为临时文件
type TranscriptionRequest struct {
	SessionID   string  `json:"sessionId,omitempty"`
	Path        string  `json:"path"`
	Format      string  `json:"format"`   // webm, wav, mp3 ...
	Language    string  `json:"language"` // ISO-639-1, e.g. en
	Temperature float64 `json:"temperature"`
	Prompt      string  `json:"prompt,omitempty"`
}
