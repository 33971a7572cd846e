package status

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nyl/internal/domain"
)

type fakeProviders struct {
	cfg domain.ProviderConfig
	err error
}

func (f fakeProviders) ProviderConfig(context.Context) (domain.ProviderConfig, error) {
	return f.cfg, f.err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []domain.StatusEvent
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, event any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event.(domain.StatusEvent))
}

func (r *recordingBroadcaster) Events() []domain.StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.StatusEvent(nil), r.events...)
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newService(t *testing.T, src ProviderSource, clock *fakeClock) *Service {
	t.Helper()
	svc, err := NewService(src, Options{
		Name:              "nyl",
		Version:           "1.2.3",
		HeartbeatInterval: 30 * time.Second,
		Now:               clock.Now,
	}, quiet())
	require.NoError(t, err)
	return svc
}

func TestSnapshot(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := newService(t, fakeProviders{cfg: domain.ProviderConfig{AIEnabled: true, ActiveProvider: domain.ProviderLocal}}, clock)

	clock.Advance(90 * time.Second)
	snap := svc.Snapshot(context.Background())

	require.Equal(t, "nyl", snap.Server.Name)
	require.Equal(t, "1.2.3", snap.Server.Version)
	require.NotEmpty(t, snap.Server.Hostname)
	require.Equal(t, int64(90), snap.Server.UptimeSeconds)
	require.Equal(t, domain.ProviderLocal, snap.Server.AIProvider)
	require.Equal(t, int64(30), snap.Heartbeat.IntervalSeconds)
	require.Zero(t, snap.Heartbeat.Count)
	require.Nil(t, snap.Heartbeat.LastFiredAt)
	require.Nil(t, snap.Weather)
}

func TestSnapshot_ProviderFallsBackToNone(t *testing.T) {
	clock := &fakeClock{now: time.Now()}

	svc := newService(t, fakeProviders{err: errors.New("settings unreadable")}, clock)
	require.Equal(t, domain.ProviderNone, svc.Snapshot(context.Background()).Server.AIProvider)

	svc = newService(t, fakeProviders{cfg: domain.ProviderConfig{AIEnabled: false, ActiveProvider: domain.ProviderCloud}}, clock)
	require.Equal(t, domain.ProviderNone, svc.Snapshot(context.Background()).Server.AIProvider)
}

func TestHeartbeatAndWeather(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := newService(t, fakeProviders{}, clock)

	fired := clock.Now().Add(time.Minute)
	svc.RecordHeartbeat(fired)
	svc.RecordHeartbeat(fired.Add(time.Minute))
	svc.SetWeather(domain.Weather{Location: "Kitchen", TemperatureC: 21.5, Condition: "clear"})

	snap := svc.Snapshot(context.Background())
	require.Equal(t, int64(2), snap.Heartbeat.Count)
	require.NotNil(t, snap.Heartbeat.LastFiredAt)
	require.True(t, snap.Heartbeat.LastFiredAt.Equal(fired.Add(time.Minute)))
	require.NotNil(t, snap.Weather)
	require.Equal(t, "Kitchen", snap.Weather.Location)
	require.Equal(t, clock.Now(), snap.Weather.UpdatedAt)

	// The snapshot is a copy.
	snap.Weather.Location = "changed"
	require.Equal(t, "Kitchen", svc.Snapshot(context.Background()).Weather.Location)
}

func TestEvent(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := newService(t, fakeProviders{}, clock)

	ev := svc.Event(context.Background(), domain.EventConnected)
	require.Equal(t, domain.EventConnected, ev.Type)
	require.Equal(t, clock.Now(), ev.Timestamp)
	require.NotNil(t, ev.Payload)
	require.Equal(t, "nyl", ev.Payload.Server.Name)
}

func TestNewService_RequiresProviders(t *testing.T) {
	_, err := NewService(nil, Options{}, nil)
	require.Error(t, err)
}

func TestTicker_BroadcastsUntilCancelled(t *testing.T) {
	svc := newService(t, fakeProviders{}, &fakeClock{now: time.Now()})
	out := &recordingBroadcaster{}
	tk, err := NewTicker(svc, out, 10*time.Millisecond, 15*time.Millisecond, quiet())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tk.Run(ctx) }()

	require.Eventually(t, func() bool {
		var beats, updates int
		for _, ev := range out.Events() {
			switch ev.Type {
			case domain.EventHeartbeatFired:
				beats++
			case domain.EventStatusUpdate:
				updates++
			}
		}
		return beats >= 2 && updates >= 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ticker did not stop")
	}
	require.Positive(t, svc.Snapshot(context.Background()).Heartbeat.Count)
}

func TestTicker_DisabledIntervals(t *testing.T) {
	svc := newService(t, fakeProviders{}, &fakeClock{now: time.Now()})
	out := &recordingBroadcaster{}
	tk, err := NewTicker(svc, out, 0, 0, quiet())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.NoError(t, tk.Run(ctx))
	require.Empty(t, out.Events())
}

func TestNewTicker_Validates(t *testing.T) {
	svc := newService(t, fakeProviders{}, &fakeClock{now: time.Now()})
	_, err := NewTicker(nil, &recordingBroadcaster{}, time.Second, time.Second, nil)
	require.Error(t, err)
	_, err = NewTicker(svc, nil, time.Second, time.Second, nil)
	require.Error(t, err)
}
