package statusbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"nyl/internal/domain"
)

// DefaultChannel is the pub/sub channel status producers publish to.
const DefaultChannel = "nyl:status"

const (
	messageWeatherUpdated = "weatherUpdated"
	messageStatusUpdate   = "statusUpdate"
)

// Message is the wire shape on the status channel.
type Message struct {
	Type    string          `json:"type"`
	Weather *domain.Weather `json:"weather,omitempty"`
}

// subscriberAPI is the subset of *redis.Client used by the relay.
type subscriberAPI interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// StatusSink receives weather updates and builds the events to broadcast.
type StatusSink interface {
	SetWeather(w domain.Weather)
	Event(ctx context.Context, typ domain.StatusEventType) domain.StatusEvent
}

type Broadcaster interface {
	Broadcast(ctx context.Context, event any)
}

// Relay turns messages published by external producers (the weather poller,
// maintenance scripts) into hub broadcasts.
type Relay struct {
	rdb     subscriberAPI
	channel string
	status  StatusSink
	out     Broadcaster
	logger  *slog.Logger
}

func NewRelay(rdb subscriberAPI, channel string, status StatusSink, out Broadcaster, logger *slog.Logger) (*Relay, error) {
	if rdb == nil {
		return nil, errors.New("statusbus: redis client must not be nil")
	}
	if status == nil {
		return nil, errors.New("statusbus: status sink must not be nil")
	}
	if out == nil {
		return nil, errors.New("statusbus: broadcaster must not be nil")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{rdb: rdb, channel: channel, status: status, out: out, logger: logger}, nil
}

// Run subscribes and relays messages until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ps := r.rdb.Subscribe(ctx, r.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("statusbus: subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("status relay subscribed", "channel", r.channel)
	r.consume(ctx, ps.Channel())
	return nil
}

func (r *Relay) consume(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				r.logger.Warn("status relay channel closed")
				return
			}
			if err := r.Handle(ctx, []byte(msg.Payload)); err != nil {
				r.logger.WarnContext(ctx, "status message skipped", "channel", msg.Channel, "err", err)
			}
		}
	}
}

// Handle applies one message.
func (r *Relay) Handle(ctx context.Context, payload []byte) error {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("statusbus: decode message: %w", err)
	}
	switch msg.Type {
	case messageWeatherUpdated:
		if msg.Weather == nil {
			return errors.New("statusbus: weatherUpdated without weather")
		}
		r.status.SetWeather(*msg.Weather)
		r.out.Broadcast(ctx, r.status.Event(ctx, domain.EventWeatherUpdated))
	case messageStatusUpdate:
		r.out.Broadcast(ctx, r.status.Event(ctx, domain.EventStatusUpdate))
	default:
		return fmt.Errorf("statusbus: unknown message type %q", msg.Type)
	}
	return nil
}
