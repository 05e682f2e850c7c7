package rewards

import (
	"context"
	"strings"

	events "github.com/glkeru/loyalty/rewards/internal/events"
	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const eventsChannelPrefix = "rewards:"

// RedisEvents пересылает события между экземплярами через redis pub/sub.
// Подписчики живут в локальном Hub, Publish всегда идет через redis.
type RedisEvents struct {
	client *redis.Client
	hub    *events.Hub
	pubsub *redis.PubSub
	logger *zap.Logger
	done   chan struct{}
}

var _ interf.EventBus = (*RedisEvents)(nil)

func NewRedisEvents(ctx context.Context, client *redis.Client, hub *events.Hub, logger *zap.Logger) (*RedisEvents, error) {
	ps := client.PSubscribe(ctx, eventsChannelPrefix+"*")
	// дождаться подтверждения подписки
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	r := &RedisEvents{
		client: client,
		hub:    hub,
		pubsub: ps,
		logger: logger,
		done:   make(chan struct{}),
	}
	go r.forward()
	return r, nil
}

func (r *RedisEvents) forward() {
	defer close(r.done)
	for msg := range r.pubsub.Channel() {
		topic := strings.TrimPrefix(msg.Channel, eventsChannelPrefix)
		r.hub.Publish(context.Background(), topic)
	}
}

func (r *RedisEvents) Publish(ctx context.Context, topic string) {
	err := r.client.Publish(ctx, eventsChannelPrefix+topic, "").Err()
	if err != nil {
		// локальные подписчики получат событие и без redis
		r.logger.Warn("event publish failed", zap.String("topic", topic), zap.Error(err))
		r.hub.Publish(ctx, topic)
	}
}

func (r *RedisEvents) Subscribe(topic string, fn func(topic string)) (unsubscribe func()) {
	return r.hub.Subscribe(topic, fn)
}

func (r *RedisEvents) Close() error {
	err := r.pubsub.Close()
	<-r.done
	return err
}
