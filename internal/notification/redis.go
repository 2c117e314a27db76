package notification

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const (
	inboxPrefix  = "notifications:"
	inboxMaxSize = 1000
)

// RedisNotifier pushes messages onto a capped list per operator role, newest first.
type RedisNotifier struct {
	client redis.UniversalClient
}

// NewRedisNotifier builds a Redis-backed notifier.
func NewRedisNotifier(client redis.UniversalClient) *RedisNotifier {
	return &RedisNotifier{client: client}
}

// InboxKey returns the list key holding a role's notifications.
func InboxKey(role string) string {
	return inboxPrefix + role
}

func (n *RedisNotifier) Send(ctx context.Context, message Message) error {
	pipe := n.client.TxPipeline()
	for _, role := range operatorRoles {
		m := message
		m.Destination = role
		payload, err := json.Marshal(m)
		if err != nil {
			return err
		}
		pipe.LPush(ctx, InboxKey(role), payload)
		pipe.LTrim(ctx, InboxKey(role), 0, inboxMaxSize-1)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Recent returns up to limit messages of a role's inbox, newest first.
func (n *RedisNotifier) Recent(ctx context.Context, role string, limit int64) ([]Message, error) {
	raw, err := n.client.LRange(ctx, InboxKey(role), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(raw))
	for _, r := range raw {
		var m Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
