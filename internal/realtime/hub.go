package realtime

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/pinnotify/pkg/logger"
	"github.com/charlesng35/pinnotify/pkg/metrics"
)

const (
	DefaultChannelTTL        = time.Hour
	DefaultHeartbeatInterval = 30 * time.Second
)

var (
	// ErrChannelClosed is returned when sending on a channel that has been evicted.
	ErrChannelClosed = errors.New("realtime: channel closed")
	// ErrBackpressure is returned when a channel's outbound buffer is full.
	ErrBackpressure = errors.New("realtime: channel buffer full")
)

// Channel is a per-user push handle owned by the Hub. Send must not block.
type Channel interface {
	Send(Message) error
	Close()
}

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithChannelTTL bounds the lifetime of a WebSocket channel.
func WithChannelTTL(ttl time.Duration) HubOption {
	return func(h *Hub) {
		if ttl > 0 {
			h.ttl = ttl
		}
	}
}

// WithHeartbeatInterval sets how often Run sends heartbeat messages.
func WithHeartbeatInterval(interval time.Duration) HubOption {
	return func(h *Hub) {
		if interval > 0 {
			h.heartbeat = interval
		}
	}
}

// WithLogger overrides the hub logger.
func WithLogger(log *zap.Logger) HubOption {
	return func(h *Hub) {
		if log != nil {
			h.log = log
		}
	}
}

// Hub keeps at most one live push channel per user.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]Channel

	upgrader  websocket.Upgrader
	ttl       time.Duration
	heartbeat time.Duration
	log       *zap.Logger
}

// NewHub constructs a push channel registry.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		channels:  make(map[string]Channel),
		ttl:       DefaultChannelTTL,
		heartbeat: DefaultHeartbeatInterval,
		log:       logger.WithModule("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and explicit localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register installs ch as the user's channel, evicting any previous one, and
// acknowledges it with a connected message.
func (h *Hub) Register(userID string, ch Channel) {
	userID = strings.TrimSpace(userID)
	if userID == "" || ch == nil {
		return
	}

	h.mu.Lock()
	previous := h.channels[userID]
	h.channels[userID] = ch
	count := len(h.channels)
	h.mu.Unlock()

	metrics.PushChannels.Set(float64(count))
	if previous != nil && previous != ch {
		previous.Close()
		h.log.Debug("evicted previous channel", zap.String("user_id", userID))
	}

	ack := NewMessage(KindConnected, map[string]any{"user_id": userID})
	if err := ch.Send(ack); err != nil {
		h.log.Warn("connected ack failed", zap.String("user_id", userID), zap.Error(err))
		h.release(userID, ch)
		metrics.PushMessages.WithLabelValues(string(KindConnected), "failed").Inc()
		return
	}
	metrics.PushMessages.WithLabelValues(string(KindConnected), "delivered").Inc()
}

// SendToUser delivers msg to the user's channel. It reports false when the user
// has no channel or the send failed, in which case the channel is evicted.
func (h *Hub) SendToUser(userID string, msg Message) bool {
	h.mu.RLock()
	ch := h.channels[userID]
	h.mu.RUnlock()

	if ch == nil {
		metrics.PushMessages.WithLabelValues(string(msg.Type), "absent").Inc()
		return false
	}

	if err := ch.Send(msg); err != nil {
		h.log.Warn("push delivery failed",
			zap.String("user_id", userID),
			zap.String("kind", string(msg.Type)),
			zap.Error(err),
		)
		h.release(userID, ch)
		metrics.PushMessages.WithLabelValues(string(msg.Type), "failed").Inc()
		return false
	}
	metrics.PushMessages.WithLabelValues(string(msg.Type), "delivered").Inc()
	return true
}

// Broadcast sends msg to every registered channel and returns how many accepted it.
func (h *Hub) Broadcast(msg Message) int {
	delivered := 0
	for userID, ch := range h.snapshot() {
		if err := ch.Send(msg); err != nil {
			h.log.Warn("broadcast delivery failed",
				zap.String("user_id", userID),
				zap.String("kind", string(msg.Type)),
				zap.Error(err),
			)
			h.release(userID, ch)
			metrics.PushMessages.WithLabelValues(string(msg.Type), "failed").Inc()
			continue
		}
		delivered++
		metrics.PushMessages.WithLabelValues(string(msg.Type), "delivered").Inc()
	}
	return delivered
}

// Remove evicts and closes the user's channel, if any.
func (h *Hub) Remove(userID string) {
	h.mu.Lock()
	ch := h.channels[userID]
	delete(h.channels, userID)
	count := len(h.channels)
	h.mu.Unlock()

	metrics.PushChannels.Set(float64(count))
	if ch != nil {
		ch.Close()
	}
}

// Connected reports whether the user has a registered channel.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.channels[userID]
	return ok
}

// Count returns the number of registered channels.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

// Heartbeat sends one heartbeat message to every channel.
func (h *Hub) Heartbeat() int {
	return h.Broadcast(NewMessage(KindHeartbeat, nil))
}

// Run sends heartbeats until ctx is cancelled, then closes every channel.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.Heartbeat()
		}
	}
}

// Serve upgrades the HTTP connection to a WebSocket and registers it as the
// user's channel. It blocks until the connection closes or its TTL elapses.
func (h *Hub) Serve(userID string, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	ch := newWSChannel(conn, userID, h.log)
	go ch.writeLoop()

	h.Register(userID, ch)

	expiry := time.AfterFunc(h.ttl, func() {
		h.log.Debug("channel ttl elapsed", zap.String("user_id", userID))
		h.release(userID, ch)
	})
	defer expiry.Stop()

	ch.readLoop()
	h.release(userID, ch)
}

// release evicts ch only if it is still the user's registered channel, so an
// old connection shutting down never removes its replacement.
func (h *Hub) release(userID string, ch Channel) bool {
	h.mu.Lock()
	current, ok := h.channels[userID]
	removed := ok && current == ch
	if removed {
		delete(h.channels, userID)
	}
	count := len(h.channels)
	h.mu.Unlock()

	if removed {
		metrics.PushChannels.Set(float64(count))
	}
	ch.Close()
	return removed
}

func (h *Hub) snapshot() map[string]Channel {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]Channel, len(h.channels))
	for userID, ch := range h.channels {
		out[userID] = ch
	}
	return out
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	channels := h.channels
	h.channels = make(map[string]Channel)
	h.mu.Unlock()

	metrics.PushChannels.Set(0)
	for _, ch := range channels {
		ch.Close()
	}
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
