package feedsim

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xela07ax/attackmap/internal/domain"
	"github.com/xela07ax/attackmap/internal/ingest"
	"go.uber.org/zap"
)

type Feed string

const (
	FeedLogs    Feed = "logs"    // Все записи
	FeedMapLogs Feed = "maplogs" // Только записи с координатами
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

type client struct {
	conn *websocket.Conn
	feed Feed
	send chan []byte
}

// Hub раздаёт батчи и keep-alive всем подключённым клиентам /ws/logs и /ws/maplogs.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Dev-стенд: пускаем любой Origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.Named("hub"),
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handler поднимает WebSocket для фида.
func (h *Hub) Handler(feed Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		c := &client{conn: conn, feed: feed, send: make(chan []byte, sendBuffer)}

		h.mu.Lock()
		h.clients[c] = struct{}{}
		h.mu.Unlock()
		h.logger.Info("client connected", zap.String("feed", string(feed)), zap.String("remote", r.RemoteAddr))

		go c.writeLoop()
		c.readLoop()

		h.mu.Lock()
		delete(h.clients, c)
		close(c.send)
		h.mu.Unlock()
		h.logger.Info("client disconnected", zap.String("feed", string(feed)))
	}
}

// Publish рассылает батч: каждому фиду своя выборка.
func (h *Hub) Publish(_ context.Context, batch []domain.AttackRecord) error {
	for _, feed := range []Feed{FeedLogs, FeedMapLogs} {
		records := FilterFeed(feed, batch)
		if len(records) == 0 {
			continue
		}
		raw, err := ingest.EncodeBatch(records)
		if err != nil {
			return fmt.Errorf("hub: encode %s: %w", feed, err)
		}
		h.broadcast(raw, func(c *client) bool { return c.feed == feed })
	}
	return nil
}

// Ping шлёт {"type":"ping"} всем клиентам.
func (h *Hub) Ping(context.Context) error {
	h.broadcast(ingest.PingMessage, func(*client) bool { return true })
	return nil
}

// Run ждёт отмены ctx и закрывает все соединения.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed stopped"),
			time.Now().Add(writeWait))
		_ = c.conn.Close()
	}
}

// broadcast не ждёт медленных клиентов: переполненный буфер рвёт соединение.
func (h *Hub) broadcast(raw []byte, match func(*client) bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !match(c) {
			continue
		}
		select {
		case c.send <- raw:
		default:
			h.logger.Warn("slow client dropped", zap.String("feed", string(c.feed)))
			_ = c.conn.Close()
		}
	}
}

func (c *client) writeLoop() {
	failed := false
	for msg := range c.send {
		if failed {
			continue
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			failed = true
			_ = c.conn.Close()
		}
	}
}

// readLoop нужен для control-фреймов и обнаружения закрытия.
func (c *client) readLoop() {
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			_ = c.conn.Close()
			return
		}
	}
}

// FilterFeed отбирает записи батча для фида.
func FilterFeed(feed Feed, batch []domain.AttackRecord) []domain.AttackRecord {
	if feed != FeedMapLogs {
		return batch
	}
	out := make([]domain.AttackRecord, 0, len(batch))
	for _, r := range batch {
		if r.HasLocation() {
			out = append(out, r)
		}
	}
	return out
}
