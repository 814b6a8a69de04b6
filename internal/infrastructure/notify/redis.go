package notify

import (
	"context"
	"encoding/json"

	"commissions-backend/internal/application/notifications"

	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "project-status"

// RedisSink publishes status changes on a pub/sub channel for live UI feeds.
type RedisSink struct {
	Rdb     *redis.Client
	Channel string
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Send(ctx context.Context, ev notifications.StatusChanged) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ch := s.Channel
	if ch == "" {
		ch = DefaultChannel
	}
	return s.Rdb.Publish(ctx, ch, payload).Err()
}
