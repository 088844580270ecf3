// Package relay mirrors event bus traffic into Redis so that other
// processes can follow updates and alerts.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/web3-frozen/defilens/internal/events"
	"github.com/web3-frozen/defilens/internal/metrics"
)

const (
	channelPrefix  = "defilens:"
	recentAlertKey = "defilens:alerts:recent"
	recentAlertCap = 100
	publishTimeout = 2 * time.Second
)

// Envelope is the JSON message published on every channel.
type Envelope struct {
	Topic   events.Topic    `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Channel returns the Redis channel a topic is published on.
func Channel(topic events.Topic) string {
	return channelPrefix + string(topic)
}

// Relay publishes bus events to Redis pub/sub and keeps a capped list of
// recent alerts.
type Relay struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New connects to Redis and verifies the connection.
func New(redisURL, password string, logger *slog.Logger) (*Relay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Relay{rdb: rdb, logger: logger}, nil
}

// Close shuts down the Redis connection.
func (r *Relay) Close() error {
	return r.rdb.Close()
}

// Attach subscribes the relay to both bus topics. Unsubscribe the returned
// handles to detach it.
func (r *Relay) Attach(bus *events.Bus) []*events.Subscription {
	return []*events.Subscription{
		bus.Subscribe(events.TopicUpdate, r.forward),
		bus.Subscribe(events.TopicAlert, r.forward),
	}
}

func (r *Relay) forward(topic events.Topic, payload any) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.Publish(ctx, topic, payload); err != nil {
		metrics.RelayFailuresTotal.WithLabelValues(string(topic)).Inc()
		r.logger.Warn("relay publish failed", "topic", topic, "error", err)
	}
}

// Publish sends payload on the topic channel. Alerts are also pushed onto
// the recent alerts list.
func (r *Relay) Publish(ctx context.Context, topic events.Topic, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	msg, err := json.Marshal(Envelope{Topic: topic, Payload: body})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	if err := r.rdb.Publish(ctx, Channel(topic), msg).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", Channel(topic), err)
	}
	if topic != events.TopicAlert {
		return nil
	}

	pipe := r.rdb.TxPipeline()
	pipe.LPush(ctx, recentAlertKey, body)
	pipe.LTrim(ctx, recentAlertKey, 0, recentAlertCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: record alert: %w", err)
	}
	return nil
}

// ListAlerts returns up to limit of the newest relayed alerts, newest
// first. A non-empty address keeps only alerts for that address.
func (r *Relay) ListAlerts(ctx context.Context, address string, limit int) ([]events.Alert, error) {
	if limit <= 0 || limit > recentAlertCap {
		limit = recentAlertCap
	}
	raw, err := r.rdb.LRange(ctx, recentAlertKey, 0, recentAlertCap-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: recent alerts: %w", err)
	}
	out := make([]events.Alert, 0, limit)
	for _, s := range raw {
		var a events.Alert
		if err := json.Unmarshal([]byte(s), &a); err != nil {
			r.logger.Warn("skipping malformed relayed alert", "error", err)
			continue
		}
		if address != "" && a.Address != address {
			continue
		}
		out = append(out, a)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
