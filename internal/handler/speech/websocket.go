package speech

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/site-forge/backend/internal/model/speech"
	"github.com/zhouzirui/site-forge/backend/internal/service/session"
)

const (
	readWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	// 处理当前帧时最多预读的帧数
	frameQueue = 8
)

type frame struct {
	msgType int
	data    []byte
}

// handleWebSocket 每个连接一个读协程和一个处理循环：帧按到达顺序落盘、转写并应答
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	sess := session.New(conn, r.RemoteAddr)
	h.registry.Register(sess)
	defer func() {
		h.registry.Unregister(sess)
		_ = sess.Close("")
	}()

	logger := log.With().Str("session", sess.ID).Logger()
	ctx := sess.Context()

	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	go h.pingLoop(ctx, sess)

	frames := make(chan frame, frameQueue)
	go h.readLoop(conn, sess, frames, logger)

	for f := range frames {
		reply := h.processFrame(ctx, sess.ID, f.msgType, f.data, logger)
		if ctx.Err() != nil {
			// 对端已断开或服务关闭
			return
		}
		if err := h.registry.SendTo(sess, reply); err != nil {
			logger.Warn().Err(err).Msg("write reply failed")
			return
		}
	}
}

// readLoop 持续读取帧；读失败即取消会话 context，中断进行中的转写
func (h *Handler) readLoop(conn *websocket.Conn, sess *session.Session, frames chan<- frame, logger zerolog.Logger) {
	defer close(frames)
	defer sess.Cancel()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Warn().Err(err).Msg("websocket read error")
			} else {
				logger.Debug().Err(err).Msg("websocket closed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		select {
		case frames <- frame{msgType: msgType, data: data}:
		case <-sess.Context().Done():
			return
		}
	}
}

// processFrame 转换单帧为应答；任何错误都以 error 应答返回，不结束会话
func (h *Handler) processFrame(ctx context.Context, sessionID string, msgType int, data []byte, logger zerolog.Logger) speech.Reply {
	switch {
	case msgType != websocket.BinaryMessage:
		return speech.ErrorReply("expected binary audio frame")
	case len(data) == 0:
		return speech.ErrorReply("empty audio frame")
	}

	text, err := h.transcribeFrame(ctx, sessionID, data)
	if err != nil {
		logger.Warn().Err(err).Int("bytes", len(data)).Msg("frame transcription failed")
		return speech.ErrorReply(err.Error())
	}
	logger.Info().Int("bytes", len(data)).Int("text_len", len(text)).Msg("frame transcribed")
	return speech.SuccessReply(text)
}

func (h *Handler) transcribeFrame(ctx context.Context, sessionID string, data []byte) (string, error) {
	path, err := h.writeTempAudio(data)
	if err != nil {
		return "", err
	}
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warn().Err(rmErr).Str("path", path).Msg("remove temp audio failed")
		}
	}()

	result, err := h.speechSvc.Transcribe(ctx, speech.TranscriptionRequest{
		SessionID:   sessionID,
		Path:        path,
		Format:      h.opts.AudioFormat,
		Language:    h.opts.Language,
		Temperature: h.opts.Temperature,
		Prompt:      h.opts.Prompt,
	})
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// writeTempAudio 为每帧创建唯一命名的临时文件
func (h *Handler) writeTempAudio(data []byte) (string, error) {
	f, err := os.CreateTemp(h.opts.TempDir, "relay-*."+h.opts.AudioFormat)
	if err != nil {
		return "", errors.Wrap(err, "create temp audio file")
	}
	path := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", errors.Wrap(err, "write temp audio file")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", errors.Wrap(err, "close temp audio file")
	}
	return path, nil
}

// pingLoop 定期发送 ping，保持读超时续期
func (h *Handler) pingLoop(ctx context.Context, sess *session.Session) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sess.Ping(); err != nil {
				return
			}
		}
	}
}
