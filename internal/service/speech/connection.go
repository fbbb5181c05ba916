package speech

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// dialOptions 上游 WebSocket 建连参数
type dialOptions struct {
	HandshakeTimeout time.Duration
	MaxAttempts      int
	RetryDelay       time.Duration
}

func defaultDialOptions() dialOptions {
	return dialOptions{
		HandshakeTimeout: 10 * time.Second,
		MaxAttempts:      3,
		RetryDelay:       500 * time.Millisecond,
	}
}

// dialWithRetry 建立上游连接，仅对网络层错误重试；握手被拒（4xx）直接返回
func dialWithRetry(ctx context.Context, opts dialOptions, url string, header http.Header) (*websocket.Conn, *http.Response, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	attempts := opts.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(time.Duration(i) * opts.RetryDelay):
			}
			log.Debug().Str("url", url).Int("attempt", i+1).Msg("redialing speech upstream")
		}

		conn, resp, err := dialer.DialContext(ctx, url, header)
		if err == nil {
			return conn, resp, nil
		}
		lastErr = err
		if !isRetryableDialError(err, resp) || ctx.Err() != nil {
			break
		}
	}
	return nil, nil, errors.Wrapf(lastErr, "dial %s", url)
}

func isRetryableDialError(err error, resp *http.Response) bool {
	if resp != nil {
		return resp.StatusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseAbnormalClosure, websocket.CloseGoingAway)
}
