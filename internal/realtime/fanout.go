package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/charlesng35/pinnotify/pkg/logger"
)

// DefaultFanoutChannel is the Redis pub/sub channel shared by all instances.
const DefaultFanoutChannel = "pinnotify:push"

const (
	defaultResubscribeMin = 500 * time.Millisecond
	defaultResubscribeMax = 30 * time.Second
)

var errSubscriptionClosed = errors.New("realtime: fan-out subscription closed")

type fanoutEnvelope struct {
	UserID  string  `json:"user_id"`
	Message Message `json:"message"`
}

// RedisFanout routes push messages across instances. Every instance publishes
// to a shared Redis channel and delivers what it receives to its local Hub.
type RedisFanout struct {
	client  redis.UniversalClient
	hub     *Hub
	channel string
	log     *zap.Logger

	retryMin time.Duration
	retryMax time.Duration
}

// NewRedisFanout constructs a fan-out bound to the local hub.
func NewRedisFanout(client redis.UniversalClient, hub *Hub, channel string) (*RedisFanout, error) {
	if client == nil {
		return nil, errors.New("realtime: redis client is required")
	}
	if hub == nil {
		return nil, errors.New("realtime: hub is required")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultFanoutChannel
	}
	return &RedisFanout{
		client:  client,
		hub:     hub,
		channel:  channel,
		log:      logger.WithModule("realtime"),
		retryMin: defaultResubscribeMin,
		retryMax: defaultResubscribeMax,
	}, nil
}

// SendToUser publishes msg for the user. Delivery happens on whichever instance
// holds the user's channel, so true only means the publish succeeded.
func (f *RedisFanout) SendToUser(userID string, msg Message) bool {
	return f.publish(fanoutEnvelope{UserID: userID, Message: msg})
}

// Run subscribes to the shared channel until ctx is cancelled. A failed or lost
// subscription is retried with exponential backoff.
func (f *RedisFanout) Run(ctx context.Context) {
	backoff := f.retryMin
	for {
		established, err := f.subscribe(ctx)
		if ctx.Err() != nil {
			return
		}
		if established {
			backoff = f.retryMin
		}
		f.log.Warn("fan-out subscription lost; retrying",
			zap.String("channel", f.channel),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = min(backoff*2, f.retryMax)
	}
}

// subscribe consumes one subscription and reports whether it was established.
func (f *RedisFanout) subscribe(ctx context.Context) (bool, error) {
	sub := f.client.Subscribe(ctx, f.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return false, err
	}
	f.log.Info("fan-out subscribed", zap.String("channel", f.channel))

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case raw, ok := <-messages:
			if !ok {
				return true, errSubscriptionClosed
			}
			f.deliver(raw.Payload)
		}
	}
}

func (f *RedisFanout) deliver(payload string) {
	var env fanoutEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		f.log.Warn("invalid fan-out payload", zap.Error(err))
		return
	}
	if env.UserID == "" {
		f.log.Warn("fan-out payload without user", zap.String("kind", string(env.Message.Type)))
		return
	}
	f.hub.SendToUser(env.UserID, env.Message)
}

func (f *RedisFanout) publish(env fanoutEnvelope) bool {
	payload, err := json.Marshal(env)
	if err != nil {
		f.log.Warn("encode fan-out payload", zap.Error(err))
		return false
	}
	// Publishing is part of the push path, which never blocks on a caller context.
	if err := f.client.Publish(context.Background(), f.channel, payload).Err(); err != nil {
		f.log.Warn("publish fan-out payload", zap.String("user_id", env.UserID), zap.Error(err))
		return false
	}
	return true
}
