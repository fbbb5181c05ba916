// Package session 管理音频 relay 的在线连接
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/site-forge/backend/internal/metrics"
)

// ErrSessionNotRegistered SendTo 的目标不在注册表中
var ErrSessionNotRegistered = errors.New("session not registered")

const (
	writeWait = 10 * time.Second
	closeWait = time.Second
)

// Conn 会话写入所需的 *websocket.Conn 子集
type Conn interface {
	WriteJSON(v interface{}) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session 一个已接受的 relay 连接。
// 写操作串行化，relay 循环、心跳和广播共用同一个 socket；每次写都带超时。
type Session struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	conn      Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

// New 包装连接并分配新的 id
func New(conn Conn, remoteAddr string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:          uuid.NewString(),
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
		conn:        conn,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Context 会话关闭或 Cancel 后失效，用于约束该会话上的转写调用
func (s *Session) Context() context.Context {
	return s.ctx
}

// Cancel 取消会话上进行中的工作，不关闭连接
func (s *Session) Cancel() {
	s.cancel()
}

// WriteJSON 以文本帧发送 v
func (s *Session) WriteJSON(v interface{}) error {
	return s.writeJSON(v, time.Now().Add(writeWait))
}

func (s *Session) writeJSON(v interface{}, deadline time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

// Ping 发送心跳
func (s *Session) Ping() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

// Close 尽力发送 close 帧后关闭 socket，只执行一次。
// 不等待 writeMu：WriteControl 可与其他写并发，关闭底层连接会让阻塞中的写立即返回。
func (s *Session) Close(reason string) error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, reason),
			time.Now().Add(closeWait),
		)
		err = s.conn.Close()
	})
	return err
}

// Registry 在线会话集合，同一会话至多出现一次
type Registry struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
}

// NewRegistry 返回空注册表
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[*Session]struct{})}
}

// Register 添加会话，重复注册无副作用
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s]; ok {
		return
	}
	r.sessions[s] = struct{}{}
	metrics.ActiveSessions.Inc()
	log.Info().Str("session", s.ID).Str("remote", s.RemoteAddr).Int("sessions", len(r.sessions)).Msg("session registered")
}

// Unregister 移除会话，未知会话忽略
func (r *Registry) Unregister(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s]; !ok {
		return
	}
	delete(r.sessions, s)
	metrics.ActiveSessions.Dec()
	log.Info().Str("session", s.ID).Dur("duration", time.Since(s.ConnectedAt)).Int("sessions", len(r.sessions)).Msg("session unregistered")
}

// Len 在线会话数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SendTo 向已注册会话写入 msg
func (r *Registry) SendTo(s *Session, msg interface{}) error {
	r.mu.RLock()
	_, ok := r.sessions[s]
	r.mu.RUnlock()
	if !ok {
		return ErrSessionNotRegistered
	}
	return errors.Wrapf(s.WriteJSON(msg), "send to session %s", s.ID)
}

// Broadcast 并发向所有在线会话写入 msg，返回成功数。
// 写超时取 writeWait 与 ctx 截止时间中较早者；单个会话失败只记日志。
func (r *Registry) Broadcast(ctx context.Context, msg interface{}) int {
	if ctx.Err() != nil {
		return 0
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	var (
		sent atomic.Int64
		wg   sync.WaitGroup
	)
	for _, s := range r.snapshot() {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.writeJSON(msg, deadline); err != nil {
				log.Warn().Err(err).Str("session", s.ID).Msg("broadcast write failed")
				return
			}
			sent.Add(1)
		}(s)
	}
	wg.Wait()
	return int(sent.Load())
}

// CloseAll 关闭并移除所有会话
func (r *Registry) CloseAll(reason string) {
	for _, s := range r.snapshot() {
		if err := s.Close(reason); err != nil {
			log.Debug().Err(err).Str("session", s.ID).Msg("close session")
		}
		r.Unregister(s)
	}
}

func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		out = append(out, s)
	}
	return out
}
