package status

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"nyl/internal/domain"
)

// Broadcaster fans an event out to subscribers.
type Broadcaster interface {
	Broadcast(ctx context.Context, event any)
}

// Ticker drives the periodic heartbeatFired and statusUpdate events.
type Ticker struct {
	svc            *Service
	out            Broadcaster
	logger         *slog.Logger
	heartbeatEvery time.Duration
	statusEvery    time.Duration
}

// NewTicker returns a Ticker. A non-positive interval disables that event.
func NewTicker(svc *Service, out Broadcaster, heartbeatEvery, statusEvery time.Duration, logger *slog.Logger) (*Ticker, error) {
	if svc == nil {
		return nil, errors.New("status: service must not be nil")
	}
	if out == nil {
		return nil, errors.New("status: broadcaster must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ticker{
		svc:            svc,
		out:            out,
		logger:         logger,
		heartbeatEvery: heartbeatEvery,
		statusEvery:    statusEvery,
	}, nil
}

// Run blocks until ctx is cancelled.
func (t *Ticker) Run(ctx context.Context) error {
	heartbeat := tickChan(t.heartbeatEvery)
	status := tickChan(t.statusEvery)
	defer heartbeat.stop()
	defer status.stop()

	t.logger.Info("status ticker started", "heartbeat_interval", t.heartbeatEvery, "status_interval", t.statusEvery)
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("status ticker stopped")
			return nil
		case now := <-heartbeat.c:
			t.svc.RecordHeartbeat(now)
			t.out.Broadcast(ctx, t.svc.Event(ctx, domain.EventHeartbeatFired))
		case <-status.c:
			t.out.Broadcast(ctx, t.svc.Event(ctx, domain.EventStatusUpdate))
		}
	}
}

type tick struct {
	c      <-chan time.Time
	ticker *time.Ticker
}

// tickChan returns a nil channel, which never fires, for a disabled interval.
func tickChan(d time.Duration) tick {
	if d <= 0 {
		return tick{}
	}
	tk := time.NewTicker(d)
	return tick{c: tk.C, ticker: tk}
}

func (t tick) stop() {
	if t.ticker != nil {
		t.ticker.Stop()
	}
}
