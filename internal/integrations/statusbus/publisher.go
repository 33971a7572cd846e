package statusbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"nyl/internal/domain"
)

type publisherAPI interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Publisher is the producer side of the status channel.
type Publisher struct {
	rdb     publisherAPI
	channel string
}

func NewPublisher(rdb publisherAPI, channel string) (*Publisher, error) {
	if rdb == nil {
		return nil, errors.New("statusbus: redis client must not be nil")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{rdb: rdb, channel: channel}, nil
}

// PublishWeather announces new weather. It returns the number of relays that
// received the message.
func (p *Publisher) PublishWeather(ctx context.Context, w domain.Weather) (int64, error) {
	return p.publish(ctx, Message{Type: messageWeatherUpdated, Weather: &w})
}

// RequestStatusUpdate asks every relay to push a fresh snapshot.
func (p *Publisher) RequestStatusUpdate(ctx context.Context) (int64, error) {
	return p.publish(ctx, Message{Type: messageStatusUpdate})
}

func (p *Publisher) publish(ctx context.Context, msg Message) (int64, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("statusbus: encode message: %w", err)
	}
	n, err := p.rdb.Publish(ctx, p.channel, b).Result()
	if err != nil {
		return 0, fmt.Errorf("statusbus: publish %s: %w", p.channel, err)
	}
	return n, nil
}
