package connectors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketSource читает живой поток из /ws/logs (или /ws/maplogs).
type WebSocketSource struct {
	url         string
	idleTimeout time.Duration
	dialer      *websocket.Dialer
	header      http.Header
	logger      *zap.Logger
}

// NewWebSocketSource. idleTimeout <= 0 отключает сторожевой таймер чтения.
func NewWebSocketSource(url string, idleTimeout time.Duration, logger *zap.Logger) *WebSocketSource {
	return &WebSocketSource{
		url:         url,
		idleTimeout: idleTimeout,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger.Named("ws-source").With(zap.String("url", url)),
	}
}

func (s *WebSocketSource) Run(ctx context.Context, sink Sink) error {
	conn, resp, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("connectors: websocket dial %s: %w (status %d)", s.url, err, resp.StatusCode)
		}
		return fmt.Errorf("connectors: websocket dial %s: %w", s.url, err)
	}
	defer conn.Close()

	// Закрытие соединения разблокирует ReadMessage при отмене контекста
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	conn.SetPingHandler(func(appData string) error {
		s.extendDeadline(conn)
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	s.logger.Info("live feed connected")
	sink.Connected()

	for {
		s.extendDeadline(conn)
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("connectors: websocket closed by server: %w", err)
			}
			return fmt.Errorf("connectors: websocket read: %w", err)
		}
		sink.Message(data)
	}
}

func (s *WebSocketSource) extendDeadline(conn *websocket.Conn) {
	if s.idleTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
	}
}
