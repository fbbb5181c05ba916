package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/site-forge/backend/internal/config"
	"github.com/zhouzirui/site-forge/backend/internal/model/speech"
)

const (
	// VolcengineProvider 火山引擎 provider 名称
	VolcengineProvider = "volcengine"

	volcengineEndpoint      = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"
	volcengineSuccessCode   = 20000000
	volcengineAudioChunk    = 6400 // 16kHz 16bit mono 200ms
	volcengineFirstAudioSeq = 2    // 首帧请求占用序号 1
)

// VolcengineClient 火山引擎大模型流式语音识别客户端。整段音频按包发送后等待最终结果。
type VolcengineClient struct {
	appID       string
	accessToken string
	resourceID  string
	endpoint    string
	dial        dialOptions
}

// NewVolcengineClient 创建火山引擎 ASR 客户端；凭证在调用时校验
func NewVolcengineClient(cfg config.SpeechConfig) *VolcengineClient {
	appID, token, _ := resolveCredentials(cfg)
	resourceID := "volc.bigasr.sauc.duration" // 小时版
	if cfg.Concurrent {
		resourceID = "volc.bigasr.sauc.concurrent" // 并发版
	}
	return &VolcengineClient{
		appID:       appID,
		accessToken: token,
		resourceID:  resourceID,
		endpoint:    volcengineEndpoint,
		dial:        defaultDialOptions(),
	}
}

type volcengineRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		Context        string `json:"context,omitempty"`
	} `json:"request"`
}

type volcengineUtterance struct {
	Text string `json:"text"`
}

type volcengineResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string                `json:"text"`
		Utterances []volcengineUtterance `json:"utterances,omitempty"`
	} `json:"result"`
	AudioInfo struct {
		Duration int64 `json:"duration"` // ms
	} `json:"audio_info"`
}

// Transcribe 实现 Transcriber
func (c *VolcengineClient) Transcribe(ctx context.Context, req speech.TranscriptionRequest) (speech.TranscriptionResult, error) {
	if c.appID == "" || c.accessToken == "" {
		return speech.TranscriptionResult{}, ErrNotConfigured
	}

	if _, _, err := volcengineAudio(req.Format); err != nil {
		return speech.TranscriptionResult{}, &TranscriptionError{Provider: VolcengineProvider, Err: err}
	}

	audio, err := os.ReadFile(req.Path)
	if err != nil {
		return speech.TranscriptionResult{}, errors.Wrap(err, "read audio file")
	}
	if len(audio) == 0 {
		return speech.TranscriptionResult{}, errors.New("no audio data to send")
	}

	connectID := uuid.NewString()
	header := http.Header{}
	header.Set("X-Api-App-Key", c.appID)
	header.Set("X-Api-Access-Key", c.accessToken)
	header.Set("X-Api-Resource-Id", c.resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := dialWithRetry(ctx, c.dial, c.endpoint, header)
	if err != nil {
		return speech.TranscriptionResult{}, &TranscriptionError{Provider: VolcengineProvider, Err: err}
	}
	defer conn.Close()

	logid := ""
	if resp != nil {
		logid = resp.Header.Get("X-Tt-Logid")
	}
	log.Debug().Str("connect_id", connectID).Str("logid", logid).Int("bytes", len(audio)).Msg("volcengine asr connected")

	// 上下文取消时关闭连接，解除阻塞的读写
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := c.sendRequest(conn, req); err != nil {
		return speech.TranscriptionResult{}, c.wrap(ctx, err)
	}

	// 读写并行：服务端提前报错时发送侧随连接关闭而退出
	sendErr := make(chan error, 1)
	go func() { sendErr <- c.sendAudio(conn, audio) }()

	result, err := c.receive(conn)
	if err != nil {
		return speech.TranscriptionResult{}, c.wrap(ctx, err)
	}
	if err := <-sendErr; err != nil {
		return speech.TranscriptionResult{}, c.wrap(ctx, err)
	}

	result.RequestID = logid
	return result, nil
}

func (c *VolcengineClient) wrap(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = errors.Wrap(ctxErr, err.Error())
	}
	return &TranscriptionError{Provider: VolcengineProvider, Err: err}
}

func (c *VolcengineClient) sendRequest(conn *websocket.Conn, req speech.TranscriptionRequest) error {
	var body volcengineRequest
	body.User.UID = req.SessionID
	container, codec, err := volcengineAudio(req.Format)
	if err != nil {
		return err
	}
	body.Audio.Format = container
	body.Audio.Codec = codec
	body.Audio.Language = req.Language
	body.Audio.Rate = 16000
	body.Audio.Bits = 16
	body.Audio.Channel = 1
	body.Request.ModelName = "bigmodel"
	body.Request.EnableITN = true
	body.Request.EnablePunc = true
	body.Request.ShowUtterances = true
	body.Request.ResultType = "full"
	if req.Prompt != "" {
		body.Request.Context = req.Prompt
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal asr request")
	}
	compressed, err := CompressPayload(payload, GzipCompression)
	if err != nil {
		return err
	}
	frame := EncodeMessage(CreateFullClientRequest(compressed, GzipCompression))
	return errors.Wrap(conn.WriteMessage(websocket.BinaryMessage, frame), "send asr request")
}

func (c *VolcengineClient) sendAudio(conn *websocket.Conn, audio []byte) error {
	seq := int32(volcengineFirstAudioSeq)
	for start := 0; start < len(audio); start += volcengineAudioChunk {
		end := min(start+volcengineAudioChunk, len(audio))
		chunk, err := CompressPayload(audio[start:end], GzipCompression)
		if err != nil {
			return err
		}
		frame := EncodeMessage(CreateAudioOnlyRequest(chunk, seq, end == len(audio), GzipCompression))
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return errors.Wrapf(err, "send audio packet %d", seq)
		}
		seq++
	}
	return nil
}

func (c *VolcengineClient) receive(conn *websocket.Conn) (speech.TranscriptionResult, error) {
	var (
		text     string
		duration int64
	)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return speech.TranscriptionResult{}, errors.Wrap(err, "read asr response")
		}
		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			return speech.TranscriptionResult{}, err
		}

		switch msg.Header.Type {
		case ErrorMessage:
			payload, _ := DecompressPayload(msg.Payload, msg.Header.Compression)
			return speech.TranscriptionResult{}, errors.Errorf("asr error %d: %s", msg.ErrorCode, string(payload))

		case FullServerResponse:
			payload, err := DecompressPayload(msg.Payload, msg.Header.Compression)
			if err != nil {
				return speech.TranscriptionResult{}, err
			}
			var resp volcengineResponse
			if err := json.Unmarshal(payload, &resp); err != nil {
				log.Warn().Err(err).Msg("skip undecodable asr response")
				continue
			}
			if resp.Code != 0 && resp.Code != volcengineSuccessCode {
				return speech.TranscriptionResult{}, errors.Errorf("asr api error %d: %s", resp.Code, resp.Message)
			}
			if candidate := resultText(resp); candidate != "" {
				text = candidate
			}
			if resp.AudioInfo.Duration > 0 {
				duration = resp.AudioInfo.Duration
			}
			if msg.IsLastPacket() || resp.Sequence < 0 {
				return speech.TranscriptionResult{
					Text:      text,
					Provider:  VolcengineProvider,
					Duration:  time.Duration(duration) * time.Millisecond,
					CreatedAt: time.Now(),
				}, nil
			}
		}
	}
}

func resultText(resp volcengineResponse) string {
	if resp.Result.Text != "" {
		return resp.Result.Text
	}
	parts := make([]string, 0, len(resp.Result.Utterances))
	for _, u := range resp.Result.Utterances {
		if u.Text != "" {
			parts = append(parts, u.Text)
		}
	}
	return strings.Join(parts, " ")
}

// volcengineAudio 映射为大模型 ASR 接受的容器与编码。
// 服务端不解 WebM(Matroska) 容器，浏览器录音需以 audio/ogg;codecs=opus 上传或先转码。
func volcengineAudio(format string) (container, codec string, err error) {
	switch f := strings.ToLower(format); f {
	case "", "ogg", "opus":
		return "ogg", "opus", nil
	case "wav", "pcm", "mp3":
		return f, "raw", nil
	default:
		return "", "", errors.Wrapf(ErrUnsupportedFormat, "volcengine does not accept %q audio", f)
	}
}
